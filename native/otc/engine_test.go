package otc

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"otcdesk/core/events"
	"otcdesk/core/types"
)

type mockState struct {
	desk         *Desk
	tokens       map[string]*TokenRegistry
	consignments map[uint64]*Consignment
	offers       map[uint64]*Offer
	accounts     map[[20]byte]*types.Account
	treasury     [20]byte
}

func newMockState() *mockState {
	return &mockState{
		tokens:       make(map[string]*TokenRegistry),
		consignments: make(map[uint64]*Consignment),
		offers:       make(map[uint64]*Offer),
		accounts:     make(map[[20]byte]*types.Account),
		treasury:     newTestAddress(0xEE),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) DeskGet() (*Desk, bool) {
	if m.desk == nil {
		return nil, false
	}
	return m.desk.Clone(), true
}

func (m *mockState) DeskPut(d *Desk) error {
	if d == nil {
		return fmt.Errorf("nil desk")
	}
	m.desk = d.Clone()
	return nil
}

func (m *mockState) TokenGet(symbol string) (*TokenRegistry, bool) {
	token, ok := m.tokens[symbol]
	if !ok {
		return nil, false
	}
	return token.Clone(), true
}

func (m *mockState) TokenPut(t *TokenRegistry) error {
	if t == nil {
		return fmt.Errorf("nil token")
	}
	m.tokens[t.Symbol] = t.Clone()
	return nil
}

func (m *mockState) ConsignmentGet(id uint64) (*Consignment, bool) {
	c, ok := m.consignments[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (m *mockState) ConsignmentPut(c *Consignment) error {
	sanitized, err := SanitizeConsignment(c)
	if err != nil {
		return err
	}
	m.consignments[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) OfferGet(id uint64) (*Offer, bool) {
	o, ok := m.offers[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (m *mockState) OfferPut(o *Offer) error {
	sanitized, err := SanitizeOffer(o)
	if err != nil {
		return err
	}
	m.offers[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) TreasuryAddress() [20]byte { return m.treasury }

func (m *mockState) mintToken(addr [20]byte, symbol string, amount int64) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &types.Account{BalanceNative: big.NewInt(0)}
		m.accounts[addr] = acc
	}
	acc.SetTokenBalance(symbol, new(big.Int).Add(acc.TokenBalance(symbol), big.NewInt(amount)))
}

func (m *mockState) mintNative(addr [20]byte, amount *big.Int) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &types.Account{BalanceNative: big.NewInt(0)}
		m.accounts[addr] = acc
	}
	acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amount)
}

func (m *mockState) tokenBalance(addr [20]byte, symbol string) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.TokenBalance(symbol))
}

func (m *mockState) nativeBalance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok || acc.BalanceNative == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.BalanceNative)
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) eventTypes() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

// Fixture addresses and amounts shared across tests. The WGT token has six
// decimals and a $2.00 reference price, the USDD stablecoin has six decimals,
// and the native asset has eighteen decimals at a $5.00 reference price, so a
// 100 WGT deal at a 10% discount costs $180: 180_000_000 USDD units or
// 36e18 native units.
var (
	testOwner     = newTestAddress(0x01)
	testAgent     = newTestAddress(0x02)
	testApprover  = newTestAddress(0x03)
	testConsigner = newTestAddress(0x10)
	testBuyer     = newTestAddress(0x20)
	testPayer     = newTestAddress(0x21)
	testOutsider  = newTestAddress(0x30)
)

const (
	testBaseTime      int64  = 1_700_000_000
	testTokenSymbol          = "WGT"
	testStableSymbol         = "USDD"
	testTokenPrice8d  uint64 = 200_000_000 // $2.00
	testNativePrice8d uint64 = 500_000_000 // $5.00
	testMinUSD8d      uint64 = 100_000_000 // $1.00
	testQuoteExpiry   int64  = 3600
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *int64) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	now := new(int64)
	*now = testBaseTime
	engine.SetNowFunc(func() int64 { return *now })
	return engine, state, now
}

func newDeskEngine(t *testing.T) (*Engine, *mockState, *int64) {
	t.Helper()
	engine, state, now := newTestEngine(t)
	if _, err := engine.InitDesk(DeskParams{
		Owner:           testOwner,
		Agent:           testAgent,
		StableSymbol:    testStableSymbol,
		StableDecimals:  6,
		NativeDecimals:  18,
		MinUSD8d:        testMinUSD8d,
		QuoteExpirySecs: testQuoteExpiry,
	}); err != nil {
		t.Fatalf("init desk: %v", err)
	}
	if err := engine.SetApprover(testOwner, testApprover, true); err != nil {
		t.Fatalf("set approver: %v", err)
	}
	if err := engine.SetPrices(testOwner, testNativePrice8d, 3600); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if _, err := engine.RegisterToken(testConsigner, testTokenSymbol, 6, [32]byte{}, 0); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := engine.SetTokenActive(testOwner, testTokenSymbol, true); err != nil {
		t.Fatalf("activate token: %v", err)
	}
	if err := engine.SetManualTokenPrice(testOwner, testTokenSymbol, testTokenPrice8d); err != nil {
		t.Fatalf("price token: %v", err)
	}
	return engine, state, now
}

func fixedTerms(discountBps uint16, lockupDays uint32) ConsignmentTerms {
	return ConsignmentTerms{FixedDiscountBps: discountBps, FixedLockupDays: lockupDays}
}

// newConsignment escrows 100 WGT under fixed 10%-discount, 1-day-lockup terms.
func newConsignment(t *testing.T, engine *Engine, state *mockState, fractional bool) *Consignment {
	t.Helper()
	state.mintToken(testConsigner, testTokenSymbol, 100_000_000)
	consignment, err := engine.CreateConsignment(ConsignmentParams{
		Consigner:  testConsigner,
		Token:      testTokenSymbol,
		Amount:     big.NewInt(100_000_000),
		Terms:      fixedTerms(1000, 1),
		Fractional: fractional,
	})
	if err != nil {
		t.Fatalf("create consignment: %v", err)
	}
	return consignment
}

func TestInitDeskValidations(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	params := DeskParams{
		Owner:           testOwner,
		Agent:           testAgent,
		StableSymbol:    testStableSymbol,
		StableDecimals:  6,
		MinUSD8d:        testMinUSD8d,
		QuoteExpirySecs: testQuoteExpiry,
	}

	short := params
	short.QuoteExpirySecs = 30
	if _, err := engine.InitDesk(short); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for short quote expiry, got %v", err)
	}
	noMin := params
	noMin.MinUSD8d = 0
	if _, err := engine.InitDesk(noMin); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for zero minimum, got %v", err)
	}

	desk, err := engine.InitDesk(params)
	if err != nil {
		t.Fatalf("init desk: %v", err)
	}
	if desk.NextConsignmentID != 1 || desk.NextOfferID != 1 {
		t.Fatalf("expected counters starting at 1, got %d/%d", desk.NextConsignmentID, desk.NextOfferID)
	}
	if desk.NativeDecimals != 18 {
		t.Fatalf("expected default native decimals 18, got %d", desk.NativeDecimals)
	}
	if _, err := engine.InitDesk(params); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState on duplicate init, got %v", err)
	}
}

func TestTransferOwnerRevokesOldOwner(t *testing.T) {
	engine, _, _ := newDeskEngine(t)
	newOwner := newTestAddress(0x40)
	if err := engine.TransferOwner(testAgent, newOwner); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for agent, got %v", err)
	}
	if err := engine.TransferOwner(testOwner, newOwner); err != nil {
		t.Fatalf("transfer owner: %v", err)
	}
	if err := engine.SetPaused(testOwner, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old owner to lose rights, got %v", err)
	}
	if err := engine.SetPaused(newOwner, true); err != nil {
		t.Fatalf("new owner pause: %v", err)
	}
}

func TestApproverSetCapAndRemoval(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	// Fixture already holds one approver.
	if err := engine.SetApprover(testOwner, testApprover, true); err != nil {
		t.Fatalf("re-adding approver should be a no-op: %v", err)
	}
	if len(state.desk.Approvers) != 1 {
		t.Fatalf("expected 1 approver, got %d", len(state.desk.Approvers))
	}
	for i := 1; i < MaxApprovers; i++ {
		if err := engine.SetApprover(testOwner, newTestAddress(0x50+byte(i)), true); err != nil {
			t.Fatalf("add approver %d: %v", i, err)
		}
	}
	if err := engine.SetApprover(testOwner, newTestAddress(0xCC), true); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState at approver cap, got %v", err)
	}
	if err := engine.SetApprover(testOwner, testApprover, false); err != nil {
		t.Fatalf("remove approver: %v", err)
	}
	if state.desk.IsApprover(testApprover) {
		t.Fatal("approver still present after removal")
	}
}

func TestSetLimitsValidations(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	base := LimitParams{
		MinUSD8d:        testMinUSD8d,
		MaxUSD8d:        0,
		QuoteExpirySecs: testQuoteExpiry,
		MaxLockupSecs:   30 * SecondsPerDay,
	}
	inverted := base
	inverted.MaxUSD8d = testMinUSD8d - 1
	if err := engine.SetLimits(testOwner, inverted); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for inverted bounds, got %v", err)
	}
	badDelay := base
	badDelay.DefaultUnlockDelaySecs = 31 * SecondsPerDay
	if err := engine.SetLimits(testOwner, badDelay); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for delay above max lockup, got %v", err)
	}
	if err := engine.SetLimits(testAgent, base); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for agent, got %v", err)
	}
	base.MaxTokenPerOrder = big.NewInt(5_000_000)
	if err := engine.SetLimits(testOwner, base); err != nil {
		t.Fatalf("set limits: %v", err)
	}
	if state.desk.MaxTokenPerOrder.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("per-order cap not persisted: %s", state.desk.MaxTokenPerOrder)
	}
}

func TestRegisterTokenRules(t *testing.T) {
	engine, _, _ := newDeskEngine(t)
	if _, err := engine.RegisterToken(testOutsider, testTokenSymbol, 6, [32]byte{}, 0); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for duplicate symbol, got %v", err)
	}
	if _, err := engine.RegisterToken(testOutsider, testStableSymbol, 6, [32]byte{}, 0); !errors.Is(err, ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms for stable symbol, got %v", err)
	}
	// Registration is permissionless and case-insensitive on the symbol.
	token, err := engine.RegisterToken(testOutsider, "  gem ", 8, [32]byte{}, 500)
	if err != nil {
		t.Fatalf("register token: %v", err)
	}
	if token.Symbol != "GEM" {
		t.Fatalf("expected normalised symbol GEM, got %q", token.Symbol)
	}
	if token.Active {
		t.Fatal("freshly registered token must be inactive")
	}
	if err := engine.SetTokenActive(testOutsider, "GEM", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner activation, got %v", err)
	}
}

func TestManualPriceDeviationGuard(t *testing.T) {
	engine, _, _ := newDeskEngine(t)
	if _, err := engine.RegisterToken(testConsigner, "GEM", 6, [32]byte{}, 1000); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := engine.SetManualTokenPrice(testOutsider, "GEM", 200_000_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for outsider, got %v", err)
	}
	// First price is unconstrained.
	if err := engine.SetManualTokenPrice(testAgent, "GEM", 200_000_000); err != nil {
		t.Fatalf("initial price: %v", err)
	}
	// 10% bound: $2.00 -> $2.20 is the limit, $2.21 is out.
	if err := engine.SetManualTokenPrice(testOwner, "GEM", 221_000_000); !errors.Is(err, ErrBadPrice) {
		t.Fatalf("expected ErrBadPrice beyond deviation bound, got %v", err)
	}
	if err := engine.SetManualTokenPrice(testOwner, "GEM", 220_000_000); err != nil {
		t.Fatalf("price at deviation bound: %v", err)
	}
	if err := engine.SetManualTokenPrice(testOwner, "GEM", 0); !errors.Is(err, ErrBadPrice) {
		t.Fatalf("expected ErrBadPrice for zero price, got %v", err)
	}
}

func TestPausedDeskRejectsMutations(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	if err := engine.SetPaused(testOwner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	state.mintToken(testConsigner, testTokenSymbol, 100_000_000)
	if _, err := engine.CreateConsignment(ConsignmentParams{
		Consigner: testConsigner,
		Token:     testTokenSymbol,
		Amount:    big.NewInt(100_000_000),
		Terms:     fixedTerms(1000, 1),
	}); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	// Reads and owner administration stay available.
	if _, err := engine.GetDesk(); err != nil {
		t.Fatalf("get desk while paused: %v", err)
	}
	if err := engine.SetPaused(testOwner, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := engine.CreateConsignment(ConsignmentParams{
		Consigner: testConsigner,
		Token:     testTokenSymbol,
		Amount:    big.NewInt(100_000_000),
		Terms:     fixedTerms(1000, 1),
	}); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}
