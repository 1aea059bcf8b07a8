package solstate

import (
	"fmt"
	"math/big"
	"sort"

	"otcdesk/core/types"
	"otcdesk/native/otc"
)

// Record layouts. RLP has no signed integers, so second-granularity times are
// stored as uint64; the engine never persists negative times.

type deskRecord struct {
	Owner                   [20]byte
	Agent                   [20]byte
	Approvers               [][20]byte
	StableSymbol            string
	StableDecimals          uint8
	NativeDecimals          uint8
	MinUSD8d                uint64
	MaxUSD8d                uint64
	MaxTokenPerOrder        *big.Int
	QuoteExpirySecs         uint64
	DefaultUnlockDelaySecs  uint64
	MaxLockupSecs           uint64
	MaxPriceAgeSecs         uint64
	RestrictFulfill         bool
	NativeUSDPrice8d        uint64
	PricesUpdatedAt         uint64
	NextConsignmentID       uint64
	NextOfferID             uint64
	Paused                  bool
	EmergencyRefundEnabled  bool
	EmergencyRefundDeadline uint64
	P2PCommissionBps        uint16
}

type tokenRecord struct {
	Symbol          string
	Decimals        uint8
	Active          bool
	USDPrice8d      uint64
	PricesUpdatedAt uint64
	FeedID          [32]byte
	MaxDeviationBps uint16
	RegisteredBy    [20]byte
	DeskInventory   *big.Int
}

type consignmentRecord struct {
	ID               uint64
	Consigner        [20]byte
	Token            string
	TotalAmount      *big.Int
	RemainingAmount  *big.Int
	Negotiable       bool
	FixedDiscountBps uint16
	FixedLockupDays  uint32
	MinDiscountBps   uint16
	MaxDiscountBps   uint16
	MinLockupDays    uint32
	MaxLockupDays    uint32
	MinDealAmount    *big.Int
	MaxDealAmount    *big.Int
	Fractional       bool
	Private          bool
	AllowList        [][20]byte
	Status           uint8
	CreatedAt        uint64
}

type offerRecord struct {
	ID               uint64
	ConsignmentID    uint64
	Beneficiary      [20]byte
	Token            string
	TokenDecimals    uint8
	TokenAmount      *big.Int
	DiscountBps      uint16
	LockupSecs       uint64
	CreatedAt        uint64
	UnlockTime       uint64
	USDPrice8d       uint64
	NativeUSDPrice8d uint64
	Currency         uint8
	CommissionBps    uint16
	Approved         bool
	Paid             bool
	Fulfilled        bool
	Cancelled        bool
	Payer            [20]byte
	AmountPaid       *big.Int
}

type tokenBalance struct {
	Symbol  string
	Balance *big.Int
}

type accountRecord struct {
	Nonce         uint64
	BalanceNative *big.Int
	Tokens        []tokenBalance
}

func toUint(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("solstate: negative time %d", v)
	}
	return uint64(v), nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// --- desk ---

// DeskGet implements otc.State.
func (t *Tx) DeskGet() (*otc.Desk, bool) {
	raw, ok := t.get(deriveKey([]byte("desk")))
	if !ok {
		return nil, false
	}
	var rec deskRecord
	if err := decodeRecord(deskDisc, raw, &rec); err != nil {
		t.fail(err)
		return nil, false
	}
	return &otc.Desk{
		Owner:                   rec.Owner,
		Agent:                   rec.Agent,
		Approvers:               rec.Approvers,
		StableSymbol:            rec.StableSymbol,
		StableDecimals:          rec.StableDecimals,
		NativeDecimals:          rec.NativeDecimals,
		MinUSD8d:                rec.MinUSD8d,
		MaxUSD8d:                rec.MaxUSD8d,
		MaxTokenPerOrder:        nonNil(rec.MaxTokenPerOrder),
		QuoteExpirySecs:         int64(rec.QuoteExpirySecs),
		DefaultUnlockDelaySecs:  int64(rec.DefaultUnlockDelaySecs),
		MaxLockupSecs:           int64(rec.MaxLockupSecs),
		MaxPriceAgeSecs:         int64(rec.MaxPriceAgeSecs),
		RestrictFulfill:         rec.RestrictFulfill,
		NativeUSDPrice8d:        rec.NativeUSDPrice8d,
		PricesUpdatedAt:         int64(rec.PricesUpdatedAt),
		NextConsignmentID:       rec.NextConsignmentID,
		NextOfferID:             rec.NextOfferID,
		Paused:                  rec.Paused,
		EmergencyRefundEnabled:  rec.EmergencyRefundEnabled,
		EmergencyRefundDeadline: int64(rec.EmergencyRefundDeadline),
		P2PCommissionBps:        rec.P2PCommissionBps,
	}, true
}

// DeskPut implements otc.State.
func (t *Tx) DeskPut(desk *otc.Desk) error {
	if desk == nil {
		return fmt.Errorf("solstate: nil desk")
	}
	quoteExpiry, err := toUint(desk.QuoteExpirySecs)
	if err != nil {
		return t.record(err)
	}
	unlockDelay, err := toUint(desk.DefaultUnlockDelaySecs)
	if err != nil {
		return t.record(err)
	}
	maxLockup, err := toUint(desk.MaxLockupSecs)
	if err != nil {
		return t.record(err)
	}
	maxPriceAge, err := toUint(desk.MaxPriceAgeSecs)
	if err != nil {
		return t.record(err)
	}
	pricesAt, err := toUint(desk.PricesUpdatedAt)
	if err != nil {
		return t.record(err)
	}
	refundDeadline, err := toUint(desk.EmergencyRefundDeadline)
	if err != nil {
		return t.record(err)
	}
	rec := deskRecord{
		Owner:                   desk.Owner,
		Agent:                   desk.Agent,
		Approvers:               desk.Approvers,
		StableSymbol:            desk.StableSymbol,
		StableDecimals:          desk.StableDecimals,
		NativeDecimals:          desk.NativeDecimals,
		MinUSD8d:                desk.MinUSD8d,
		MaxUSD8d:                desk.MaxUSD8d,
		MaxTokenPerOrder:        nonNil(desk.MaxTokenPerOrder),
		QuoteExpirySecs:         quoteExpiry,
		DefaultUnlockDelaySecs:  unlockDelay,
		MaxLockupSecs:           maxLockup,
		MaxPriceAgeSecs:         maxPriceAge,
		RestrictFulfill:         desk.RestrictFulfill,
		NativeUSDPrice8d:        desk.NativeUSDPrice8d,
		PricesUpdatedAt:         pricesAt,
		NextConsignmentID:       desk.NextConsignmentID,
		NextOfferID:             desk.NextOfferID,
		Paused:                  desk.Paused,
		EmergencyRefundEnabled:  desk.EmergencyRefundEnabled,
		EmergencyRefundDeadline: refundDeadline,
		P2PCommissionBps:        desk.P2PCommissionBps,
	}
	encoded, err := encodeRecord(deskDisc, &rec)
	if err != nil {
		return t.record(err)
	}
	t.put(deriveKey([]byte("desk")), encoded)
	return nil
}

// --- token registry ---

// TokenGet implements otc.State.
func (t *Tx) TokenGet(symbol string) (*otc.TokenRegistry, bool) {
	raw, ok := t.get(deriveKey([]byte("token"), []byte(symbol)))
	if !ok {
		return nil, false
	}
	var rec tokenRecord
	if err := decodeRecord(tokenDisc, raw, &rec); err != nil {
		t.fail(err)
		return nil, false
	}
	return &otc.TokenRegistry{
		Symbol:          rec.Symbol,
		Decimals:        rec.Decimals,
		Active:          rec.Active,
		USDPrice8d:      rec.USDPrice8d,
		PricesUpdatedAt: int64(rec.PricesUpdatedAt),
		FeedID:          rec.FeedID,
		MaxDeviationBps: rec.MaxDeviationBps,
		RegisteredBy:    rec.RegisteredBy,
		DeskInventory:   nonNil(rec.DeskInventory),
	}, true
}

// TokenPut implements otc.State.
func (t *Tx) TokenPut(token *otc.TokenRegistry) error {
	if token == nil {
		return fmt.Errorf("solstate: nil token")
	}
	pricesAt, err := toUint(token.PricesUpdatedAt)
	if err != nil {
		return t.record(err)
	}
	rec := tokenRecord{
		Symbol:          token.Symbol,
		Decimals:        token.Decimals,
		Active:          token.Active,
		USDPrice8d:      token.USDPrice8d,
		PricesUpdatedAt: pricesAt,
		FeedID:          token.FeedID,
		MaxDeviationBps: token.MaxDeviationBps,
		RegisteredBy:    token.RegisteredBy,
		DeskInventory:   nonNil(token.DeskInventory),
	}
	encoded, err := encodeRecord(tokenDisc, &rec)
	if err != nil {
		return t.record(err)
	}
	t.put(deriveKey([]byte("token"), []byte(token.Symbol)), encoded)
	return nil
}

// --- consignments ---

// ConsignmentGet implements otc.State.
func (t *Tx) ConsignmentGet(id uint64) (*otc.Consignment, bool) {
	raw, ok := t.get(deriveKey([]byte("consignment"), be64(id)))
	if !ok {
		return nil, false
	}
	var rec consignmentRecord
	if err := decodeRecord(consignmentDisc, raw, &rec); err != nil {
		t.fail(err)
		return nil, false
	}
	return &otc.Consignment{
		ID:              rec.ID,
		Consigner:       rec.Consigner,
		Token:           rec.Token,
		TotalAmount:     nonNil(rec.TotalAmount),
		RemainingAmount: nonNil(rec.RemainingAmount),
		Terms: otc.ConsignmentTerms{
			Negotiable:       rec.Negotiable,
			FixedDiscountBps: rec.FixedDiscountBps,
			FixedLockupDays:  rec.FixedLockupDays,
			MinDiscountBps:   rec.MinDiscountBps,
			MaxDiscountBps:   rec.MaxDiscountBps,
			MinLockupDays:    rec.MinLockupDays,
			MaxLockupDays:    rec.MaxLockupDays,
		},
		MinDealAmount: nonNil(rec.MinDealAmount),
		MaxDealAmount: nonNil(rec.MaxDealAmount),
		Fractional:    rec.Fractional,
		Private:       rec.Private,
		AllowList:     rec.AllowList,
		Status:        otc.ConsignmentStatus(rec.Status),
		CreatedAt:     int64(rec.CreatedAt),
	}, true
}

// ConsignmentPut implements otc.State.
func (t *Tx) ConsignmentPut(c *otc.Consignment) error {
	sanitized, err := otc.SanitizeConsignment(c)
	if err != nil {
		return t.record(err)
	}
	createdAt, err := toUint(sanitized.CreatedAt)
	if err != nil {
		return t.record(err)
	}
	rec := consignmentRecord{
		ID:               sanitized.ID,
		Consigner:        sanitized.Consigner,
		Token:            sanitized.Token,
		TotalAmount:      nonNil(sanitized.TotalAmount),
		RemainingAmount:  nonNil(sanitized.RemainingAmount),
		Negotiable:       sanitized.Terms.Negotiable,
		FixedDiscountBps: sanitized.Terms.FixedDiscountBps,
		FixedLockupDays:  sanitized.Terms.FixedLockupDays,
		MinDiscountBps:   sanitized.Terms.MinDiscountBps,
		MaxDiscountBps:   sanitized.Terms.MaxDiscountBps,
		MinLockupDays:    sanitized.Terms.MinLockupDays,
		MaxLockupDays:    sanitized.Terms.MaxLockupDays,
		MinDealAmount:    nonNil(sanitized.MinDealAmount),
		MaxDealAmount:    nonNil(sanitized.MaxDealAmount),
		Fractional:       sanitized.Fractional,
		Private:          sanitized.Private,
		AllowList:        sanitized.AllowList,
		Status:           uint8(sanitized.Status),
		CreatedAt:        createdAt,
	}
	encoded, err := encodeRecord(consignmentDisc, &rec)
	if err != nil {
		return t.record(err)
	}
	t.put(deriveKey([]byte("consignment"), be64(sanitized.ID)), encoded)
	return nil
}

// --- offers ---

// OfferGet implements otc.State.
func (t *Tx) OfferGet(id uint64) (*otc.Offer, bool) {
	raw, ok := t.get(deriveKey([]byte("offer"), be64(id)))
	if !ok {
		return nil, false
	}
	var rec offerRecord
	if err := decodeRecord(offerDisc, raw, &rec); err != nil {
		t.fail(err)
		return nil, false
	}
	return &otc.Offer{
		ID:               rec.ID,
		ConsignmentID:    rec.ConsignmentID,
		Beneficiary:      rec.Beneficiary,
		Token:            rec.Token,
		TokenDecimals:    rec.TokenDecimals,
		TokenAmount:      nonNil(rec.TokenAmount),
		DiscountBps:      rec.DiscountBps,
		LockupSecs:       int64(rec.LockupSecs),
		CreatedAt:        int64(rec.CreatedAt),
		UnlockTime:       int64(rec.UnlockTime),
		USDPrice8d:       rec.USDPrice8d,
		NativeUSDPrice8d: rec.NativeUSDPrice8d,
		Currency:         otc.Currency(rec.Currency),
		CommissionBps:    rec.CommissionBps,
		Approved:         rec.Approved,
		Paid:             rec.Paid,
		Fulfilled:        rec.Fulfilled,
		Cancelled:        rec.Cancelled,
		Payer:            rec.Payer,
		AmountPaid:       nonNil(rec.AmountPaid),
	}, true
}

// OfferPut implements otc.State.
func (t *Tx) OfferPut(o *otc.Offer) error {
	sanitized, err := otc.SanitizeOffer(o)
	if err != nil {
		return t.record(err)
	}
	lockup, err := toUint(sanitized.LockupSecs)
	if err != nil {
		return t.record(err)
	}
	createdAt, err := toUint(sanitized.CreatedAt)
	if err != nil {
		return t.record(err)
	}
	unlockTime, err := toUint(sanitized.UnlockTime)
	if err != nil {
		return t.record(err)
	}
	rec := offerRecord{
		ID:               sanitized.ID,
		ConsignmentID:    sanitized.ConsignmentID,
		Beneficiary:      sanitized.Beneficiary,
		Token:            sanitized.Token,
		TokenDecimals:    sanitized.TokenDecimals,
		TokenAmount:      nonNil(sanitized.TokenAmount),
		DiscountBps:      sanitized.DiscountBps,
		LockupSecs:       lockup,
		CreatedAt:        createdAt,
		UnlockTime:       unlockTime,
		USDPrice8d:       sanitized.USDPrice8d,
		NativeUSDPrice8d: sanitized.NativeUSDPrice8d,
		Currency:         uint8(sanitized.Currency),
		CommissionBps:    sanitized.CommissionBps,
		Approved:         sanitized.Approved,
		Paid:             sanitized.Paid,
		Fulfilled:        sanitized.Fulfilled,
		Cancelled:        sanitized.Cancelled,
		Payer:            sanitized.Payer,
		AmountPaid:       nonNil(sanitized.AmountPaid),
	}
	encoded, err := encodeRecord(offerDisc, &rec)
	if err != nil {
		return t.record(err)
	}
	t.put(deriveKey([]byte("offer"), be64(sanitized.ID)), encoded)
	return nil
}

// --- accounts ---

// GetAccount implements otc.State.
func (t *Tx) GetAccount(addr []byte) (*types.Account, error) {
	raw, ok := t.get(deriveKey([]byte("account"), addr))
	if !ok {
		if t.err != nil {
			return nil, t.err
		}
		return &types.Account{BalanceNative: big.NewInt(0)}, nil
	}
	var rec accountRecord
	if err := decodeRecord(accountDisc, raw, &rec); err != nil {
		return nil, t.record(err)
	}
	acc := &types.Account{Nonce: rec.Nonce, BalanceNative: nonNil(rec.BalanceNative)}
	for _, tb := range rec.Tokens {
		acc.SetTokenBalance(tb.Symbol, nonNil(tb.Balance))
	}
	return acc, nil
}

// PutAccount implements otc.State. Token balances serialize in symbol order so
// the record bytes are deterministic.
func (t *Tx) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("solstate: nil account")
	}
	symbols := make([]string, 0, len(account.Tokens))
	for symbol := range account.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	rec := accountRecord{
		Nonce:         account.Nonce,
		BalanceNative: nonNil(account.BalanceNative),
		Tokens:        make([]tokenBalance, 0, len(symbols)),
	}
	for _, symbol := range symbols {
		rec.Tokens = append(rec.Tokens, tokenBalance{Symbol: symbol, Balance: nonNil(account.Tokens[symbol])})
	}
	encoded, err := encodeRecord(accountDisc, &rec)
	if err != nil {
		return t.record(err)
	}
	t.put(deriveKey([]byte("account"), addr), encoded)
	return nil
}

func be64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
