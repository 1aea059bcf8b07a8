// Package evmstate persists the settlement state the way an EVM contract
// would: every field in a 32-byte word under a keccak-derived storage slot.
package evmstate

import (
	"errors"
	"fmt"
	"sort"

	"otcdesk/core/types"
	"otcdesk/native/otc"
	"otcdesk/storage"
)

// Ledger is the storage-slot backend. One mutating engine operation runs as
// one Transaction: writes stage in an overlay and reach the database in a
// single atomic batch only when the operation succeeds.
type Ledger struct {
	db       storage.Database
	treasury [20]byte
}

// New creates a ledger over the given database. The treasury address anchors
// the escrow balances under desk control.
func New(db storage.Database, treasury [20]byte) *Ledger {
	return &Ledger{db: db, treasury: treasury}
}

// Transaction runs fn against a staged view of the ledger. If fn returns nil
// the staged writes commit atomically; otherwise nothing is persisted. Any
// storage or encoding failure inside fn surfaces here even when fn itself
// returned nil.
func (l *Ledger) Transaction(fn func(otc.State) error) error {
	tx := l.NewTx()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn against a read-only snapshot; writes staged by fn are thrown
// away.
func (l *Ledger) View(fn func(otc.State) error) error {
	tx := l.NewTx()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.err
}

// NewTx returns an uncommitted transaction. Most callers should prefer
// Transaction or View.
func (l *Ledger) NewTx() *Tx {
	return &Tx{ledger: l, writes: make(map[string][]byte)}
}

// Tx implements otc.State over the ledger with an uncommitted write overlay.
// The State interface reports lookups as present/absent only, so Tx carries
// the first real storage or encoding error and refuses to commit after one.
type Tx struct {
	ledger *Ledger
	writes map[string][]byte
	err    error
}

// Commit flushes the staged writes in one batch.
func (t *Tx) Commit() error {
	if t.err != nil {
		return t.err
	}
	if len(t.writes) == 0 {
		return nil
	}
	return t.ledger.db.WriteBatch(t.writes)
}

// Err reports the first storage or encoding failure seen by the transaction.
func (t *Tx) Err() error { return t.err }

func (t *Tx) fail(err error) {
	if t.err == nil && err != nil {
		t.err = err
	}
}

func (t *Tx) get(key []byte) ([]byte, bool) {
	if val, ok := t.writes[string(key)]; ok {
		return val, val != nil
	}
	val, err := t.ledger.db.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.fail(err)
		}
		return nil, false
	}
	return val, true
}

func (t *Tx) put(key, val []byte) {
	t.writes[string(key)] = val
}

// TreasuryAddress implements otc.State.
func (t *Tx) TreasuryAddress() [20]byte { return t.ledger.treasury }

// --- desk ---

// DeskGet implements otc.State.
func (t *Tx) DeskGet() (*otc.Desk, bool) {
	word, ok := t.get(deskSlot("initialized"))
	if !ok || !decodeBool(word) {
		return nil, false
	}
	desk := &otc.Desk{}
	desk.Owner = decodeAddr(t.word(deskSlot("owner")))
	desk.Agent = decodeAddr(t.word(deskSlot("agent")))
	desk.StableSymbol = decodeString(t.word(deskSlot("stableSymbol")))
	desk.StableDecimals = uint8(decodeUint(t.word(deskSlot("stableDecimals"))))
	desk.NativeDecimals = uint8(decodeUint(t.word(deskSlot("nativeDecimals"))))
	desk.MinUSD8d = decodeUint(t.word(deskSlot("minUsd")))
	desk.MaxUSD8d = decodeUint(t.word(deskSlot("maxUsd")))
	desk.MaxTokenPerOrder = decodeBig(t.word(deskSlot("maxTokenPerOrder")))
	desk.QuoteExpirySecs = decodeInt(t.word(deskSlot("quoteExpiry")))
	desk.DefaultUnlockDelaySecs = decodeInt(t.word(deskSlot("defaultUnlockDelay")))
	desk.MaxLockupSecs = decodeInt(t.word(deskSlot("maxLockup")))
	desk.MaxPriceAgeSecs = decodeInt(t.word(deskSlot("maxPriceAge")))
	desk.RestrictFulfill = decodeBool(t.word(deskSlot("restrictFulfill")))
	desk.NativeUSDPrice8d = decodeUint(t.word(deskSlot("nativePrice")))
	desk.PricesUpdatedAt = decodeInt(t.word(deskSlot("pricesUpdatedAt")))
	desk.NextConsignmentID = decodeUint(t.word(deskSlot("nextConsignmentId")))
	desk.NextOfferID = decodeUint(t.word(deskSlot("nextOfferId")))
	desk.Paused = decodeBool(t.word(deskSlot("paused")))
	desk.EmergencyRefundEnabled = decodeBool(t.word(deskSlot("refundEnabled")))
	desk.EmergencyRefundDeadline = decodeInt(t.word(deskSlot("refundDeadline")))
	desk.P2PCommissionBps = uint16(decodeUint(t.word(deskSlot("p2pCommission"))))
	count := decodeUint(t.word(deskSlot("approverCount")))
	for i := uint64(0); i < count; i++ {
		desk.Approvers = append(desk.Approvers, decodeAddr(t.word(deskApproverSlot(i))))
	}
	if t.err != nil {
		return nil, false
	}
	return desk, true
}

// DeskPut implements otc.State.
func (t *Tx) DeskPut(desk *otc.Desk) error {
	if desk == nil {
		return fmt.Errorf("evmstate: nil desk")
	}
	symbol, err := wordString(desk.StableSymbol)
	if err != nil {
		return t.record(err)
	}
	maxToken, err := wordBig(desk.MaxTokenPerOrder)
	if err != nil {
		return t.record(err)
	}
	intWords := map[string]int64{
		"quoteExpiry":        desk.QuoteExpirySecs,
		"defaultUnlockDelay": desk.DefaultUnlockDelaySecs,
		"maxLockup":          desk.MaxLockupSecs,
		"maxPriceAge":        desk.MaxPriceAgeSecs,
		"pricesUpdatedAt":    desk.PricesUpdatedAt,
		"refundDeadline":     desk.EmergencyRefundDeadline,
	}
	for field, v := range intWords {
		word, err := wordInt(v)
		if err != nil {
			return t.record(err)
		}
		t.put(deskSlot(field), word)
	}
	t.put(deskSlot("initialized"), wordBool(true))
	t.put(deskSlot("owner"), wordAddr(desk.Owner))
	t.put(deskSlot("agent"), wordAddr(desk.Agent))
	t.put(deskSlot("stableSymbol"), symbol)
	t.put(deskSlot("stableDecimals"), wordUint(uint64(desk.StableDecimals)))
	t.put(deskSlot("nativeDecimals"), wordUint(uint64(desk.NativeDecimals)))
	t.put(deskSlot("minUsd"), wordUint(desk.MinUSD8d))
	t.put(deskSlot("maxUsd"), wordUint(desk.MaxUSD8d))
	t.put(deskSlot("maxTokenPerOrder"), maxToken)
	t.put(deskSlot("restrictFulfill"), wordBool(desk.RestrictFulfill))
	t.put(deskSlot("nativePrice"), wordUint(desk.NativeUSDPrice8d))
	t.put(deskSlot("nextConsignmentId"), wordUint(desk.NextConsignmentID))
	t.put(deskSlot("nextOfferId"), wordUint(desk.NextOfferID))
	t.put(deskSlot("paused"), wordBool(desk.Paused))
	t.put(deskSlot("refundEnabled"), wordBool(desk.EmergencyRefundEnabled))
	t.put(deskSlot("p2pCommission"), wordUint(uint64(desk.P2PCommissionBps)))
	t.put(deskSlot("approverCount"), wordUint(uint64(len(desk.Approvers))))
	for i, approver := range desk.Approvers {
		t.put(deskApproverSlot(uint64(i)), wordAddr(approver))
	}
	return nil
}

// --- token registry ---

// TokenGet implements otc.State.
func (t *Tx) TokenGet(symbol string) (*otc.TokenRegistry, bool) {
	word, ok := t.get(tokenSlot(symbol, "exists"))
	if !ok || !decodeBool(word) {
		return nil, false
	}
	token := &otc.TokenRegistry{Symbol: symbol}
	token.Decimals = uint8(decodeUint(t.word(tokenSlot(symbol, "decimals"))))
	token.Active = decodeBool(t.word(tokenSlot(symbol, "active")))
	token.USDPrice8d = decodeUint(t.word(tokenSlot(symbol, "price")))
	token.PricesUpdatedAt = decodeInt(t.word(tokenSlot(symbol, "priceUpdatedAt")))
	token.FeedID = decodeBytes32(t.word(tokenSlot(symbol, "feedId")))
	token.MaxDeviationBps = uint16(decodeUint(t.word(tokenSlot(symbol, "maxDeviation"))))
	token.RegisteredBy = decodeAddr(t.word(tokenSlot(symbol, "registeredBy")))
	token.DeskInventory = decodeBig(t.word(tokenSlot(symbol, "deskInventory")))
	if t.err != nil {
		return nil, false
	}
	return token, true
}

// TokenPut implements otc.State.
func (t *Tx) TokenPut(token *otc.TokenRegistry) error {
	if token == nil {
		return fmt.Errorf("evmstate: nil token")
	}
	updatedAt, err := wordInt(token.PricesUpdatedAt)
	if err != nil {
		return t.record(err)
	}
	inventory, err := wordBig(token.DeskInventory)
	if err != nil {
		return t.record(err)
	}
	symbol := token.Symbol
	t.put(tokenSlot(symbol, "exists"), wordBool(true))
	t.put(tokenSlot(symbol, "decimals"), wordUint(uint64(token.Decimals)))
	t.put(tokenSlot(symbol, "active"), wordBool(token.Active))
	t.put(tokenSlot(symbol, "price"), wordUint(token.USDPrice8d))
	t.put(tokenSlot(symbol, "priceUpdatedAt"), updatedAt)
	t.put(tokenSlot(symbol, "feedId"), wordBytes32(token.FeedID))
	t.put(tokenSlot(symbol, "maxDeviation"), wordUint(uint64(token.MaxDeviationBps)))
	t.put(tokenSlot(symbol, "registeredBy"), wordAddr(token.RegisteredBy))
	t.put(tokenSlot(symbol, "deskInventory"), inventory)
	return nil
}

// --- consignments ---

// ConsignmentGet implements otc.State.
func (t *Tx) ConsignmentGet(id uint64) (*otc.Consignment, bool) {
	word, ok := t.get(consignmentSlot(id, "exists"))
	if !ok || !decodeBool(word) {
		return nil, false
	}
	c := &otc.Consignment{ID: id}
	c.Consigner = decodeAddr(t.word(consignmentSlot(id, "consigner")))
	c.Token = decodeString(t.word(consignmentSlot(id, "token")))
	c.TotalAmount = decodeBig(t.word(consignmentSlot(id, "total")))
	c.RemainingAmount = decodeBig(t.word(consignmentSlot(id, "remaining")))
	c.Terms.Negotiable = decodeBool(t.word(consignmentSlot(id, "negotiable")))
	c.Terms.FixedDiscountBps = uint16(decodeUint(t.word(consignmentSlot(id, "fixedDiscount"))))
	c.Terms.FixedLockupDays = uint32(decodeUint(t.word(consignmentSlot(id, "fixedLockupDays"))))
	c.Terms.MinDiscountBps = uint16(decodeUint(t.word(consignmentSlot(id, "minDiscount"))))
	c.Terms.MaxDiscountBps = uint16(decodeUint(t.word(consignmentSlot(id, "maxDiscount"))))
	c.Terms.MinLockupDays = uint32(decodeUint(t.word(consignmentSlot(id, "minLockupDays"))))
	c.Terms.MaxLockupDays = uint32(decodeUint(t.word(consignmentSlot(id, "maxLockupDays"))))
	c.MinDealAmount = decodeBig(t.word(consignmentSlot(id, "minDeal")))
	c.MaxDealAmount = decodeBig(t.word(consignmentSlot(id, "maxDeal")))
	c.Fractional = decodeBool(t.word(consignmentSlot(id, "fractional")))
	c.Private = decodeBool(t.word(consignmentSlot(id, "private")))
	c.Status = otc.ConsignmentStatus(decodeUint(t.word(consignmentSlot(id, "status"))))
	c.CreatedAt = decodeInt(t.word(consignmentSlot(id, "createdAt")))
	count := decodeUint(t.word(consignmentSlot(id, "allowCount")))
	for i := uint64(0); i < count; i++ {
		c.AllowList = append(c.AllowList, decodeAddr(t.word(consignmentAllowSlot(id, i))))
	}
	if t.err != nil {
		return nil, false
	}
	return c, true
}

// ConsignmentPut implements otc.State.
func (t *Tx) ConsignmentPut(c *otc.Consignment) error {
	sanitized, err := otc.SanitizeConsignment(c)
	if err != nil {
		return t.record(err)
	}
	id := sanitized.ID
	token, err := wordString(sanitized.Token)
	if err != nil {
		return t.record(err)
	}
	total, err := wordBig(sanitized.TotalAmount)
	if err != nil {
		return t.record(err)
	}
	remaining, err := wordBig(sanitized.RemainingAmount)
	if err != nil {
		return t.record(err)
	}
	minDeal, err := wordBig(sanitized.MinDealAmount)
	if err != nil {
		return t.record(err)
	}
	maxDeal, err := wordBig(sanitized.MaxDealAmount)
	if err != nil {
		return t.record(err)
	}
	createdAt, err := wordInt(sanitized.CreatedAt)
	if err != nil {
		return t.record(err)
	}
	t.put(consignmentSlot(id, "exists"), wordBool(true))
	t.put(consignmentSlot(id, "consigner"), wordAddr(sanitized.Consigner))
	t.put(consignmentSlot(id, "token"), token)
	t.put(consignmentSlot(id, "total"), total)
	t.put(consignmentSlot(id, "remaining"), remaining)
	t.put(consignmentSlot(id, "negotiable"), wordBool(sanitized.Terms.Negotiable))
	t.put(consignmentSlot(id, "fixedDiscount"), wordUint(uint64(sanitized.Terms.FixedDiscountBps)))
	t.put(consignmentSlot(id, "fixedLockupDays"), wordUint(uint64(sanitized.Terms.FixedLockupDays)))
	t.put(consignmentSlot(id, "minDiscount"), wordUint(uint64(sanitized.Terms.MinDiscountBps)))
	t.put(consignmentSlot(id, "maxDiscount"), wordUint(uint64(sanitized.Terms.MaxDiscountBps)))
	t.put(consignmentSlot(id, "minLockupDays"), wordUint(uint64(sanitized.Terms.MinLockupDays)))
	t.put(consignmentSlot(id, "maxLockupDays"), wordUint(uint64(sanitized.Terms.MaxLockupDays)))
	t.put(consignmentSlot(id, "minDeal"), minDeal)
	t.put(consignmentSlot(id, "maxDeal"), maxDeal)
	t.put(consignmentSlot(id, "fractional"), wordBool(sanitized.Fractional))
	t.put(consignmentSlot(id, "private"), wordBool(sanitized.Private))
	t.put(consignmentSlot(id, "status"), wordUint(uint64(sanitized.Status)))
	t.put(consignmentSlot(id, "createdAt"), createdAt)
	t.put(consignmentSlot(id, "allowCount"), wordUint(uint64(len(sanitized.AllowList))))
	for i, addr := range sanitized.AllowList {
		t.put(consignmentAllowSlot(id, uint64(i)), wordAddr(addr))
	}
	return nil
}

// --- offers ---

// OfferGet implements otc.State.
func (t *Tx) OfferGet(id uint64) (*otc.Offer, bool) {
	word, ok := t.get(offerSlot(id, "exists"))
	if !ok || !decodeBool(word) {
		return nil, false
	}
	o := &otc.Offer{ID: id}
	o.ConsignmentID = decodeUint(t.word(offerSlot(id, "consignmentId")))
	o.Beneficiary = decodeAddr(t.word(offerSlot(id, "beneficiary")))
	o.Token = decodeString(t.word(offerSlot(id, "token")))
	o.TokenDecimals = uint8(decodeUint(t.word(offerSlot(id, "tokenDecimals"))))
	o.TokenAmount = decodeBig(t.word(offerSlot(id, "tokenAmount")))
	o.DiscountBps = uint16(decodeUint(t.word(offerSlot(id, "discount"))))
	o.LockupSecs = decodeInt(t.word(offerSlot(id, "lockupSecs")))
	o.CreatedAt = decodeInt(t.word(offerSlot(id, "createdAt")))
	o.UnlockTime = decodeInt(t.word(offerSlot(id, "unlockTime")))
	o.USDPrice8d = decodeUint(t.word(offerSlot(id, "usdPrice")))
	o.NativeUSDPrice8d = decodeUint(t.word(offerSlot(id, "nativePrice")))
	o.Currency = otc.Currency(decodeUint(t.word(offerSlot(id, "currency"))))
	o.CommissionBps = uint16(decodeUint(t.word(offerSlot(id, "commission"))))
	flags := decodeUint(t.word(offerSlot(id, "flags")))
	o.Approved = flags&1 != 0
	o.Paid = flags&2 != 0
	o.Fulfilled = flags&4 != 0
	o.Cancelled = flags&8 != 0
	o.Payer = decodeAddr(t.word(offerSlot(id, "payer")))
	o.AmountPaid = decodeBig(t.word(offerSlot(id, "amountPaid")))
	if t.err != nil {
		return nil, false
	}
	return o, true
}

// OfferPut implements otc.State.
func (t *Tx) OfferPut(o *otc.Offer) error {
	sanitized, err := otc.SanitizeOffer(o)
	if err != nil {
		return t.record(err)
	}
	id := sanitized.ID
	token, err := wordString(sanitized.Token)
	if err != nil {
		return t.record(err)
	}
	amount, err := wordBig(sanitized.TokenAmount)
	if err != nil {
		return t.record(err)
	}
	amountPaid, err := wordBig(sanitized.AmountPaid)
	if err != nil {
		return t.record(err)
	}
	for field, v := range map[string]int64{
		"lockupSecs": sanitized.LockupSecs,
		"createdAt":  sanitized.CreatedAt,
		"unlockTime": sanitized.UnlockTime,
	} {
		word, err := wordInt(v)
		if err != nil {
			return t.record(err)
		}
		t.put(offerSlot(id, field), word)
	}
	var flags uint64
	if sanitized.Approved {
		flags |= 1
	}
	if sanitized.Paid {
		flags |= 2
	}
	if sanitized.Fulfilled {
		flags |= 4
	}
	if sanitized.Cancelled {
		flags |= 8
	}
	t.put(offerSlot(id, "exists"), wordBool(true))
	t.put(offerSlot(id, "consignmentId"), wordUint(sanitized.ConsignmentID))
	t.put(offerSlot(id, "beneficiary"), wordAddr(sanitized.Beneficiary))
	t.put(offerSlot(id, "token"), token)
	t.put(offerSlot(id, "tokenDecimals"), wordUint(uint64(sanitized.TokenDecimals)))
	t.put(offerSlot(id, "tokenAmount"), amount)
	t.put(offerSlot(id, "discount"), wordUint(uint64(sanitized.DiscountBps)))
	t.put(offerSlot(id, "usdPrice"), wordUint(sanitized.USDPrice8d))
	t.put(offerSlot(id, "nativePrice"), wordUint(sanitized.NativeUSDPrice8d))
	t.put(offerSlot(id, "currency"), wordUint(uint64(sanitized.Currency)))
	t.put(offerSlot(id, "commission"), wordUint(uint64(sanitized.CommissionBps)))
	t.put(offerSlot(id, "flags"), wordUint(flags))
	t.put(offerSlot(id, "payer"), wordAddr(sanitized.Payer))
	t.put(offerSlot(id, "amountPaid"), amountPaid)
	return nil
}

// --- accounts ---

// GetAccount implements otc.State. Token balances live in a per-account
// mapping; a symbol index makes the mapping enumerable so the full account can
// be reconstructed.
func (t *Tx) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc := &types.Account{
		Nonce:         decodeUint(t.word(accountSlot(key, "nonce"))),
		BalanceNative: decodeBig(t.word(accountSlot(key, "native"))),
	}
	count := decodeUint(t.word(accountSlot(key, "symbolCount")))
	for i := uint64(0); i < count; i++ {
		symbol := decodeString(t.word(accountSymbolSlot(key, i)))
		if symbol == "" {
			continue
		}
		acc.SetTokenBalance(symbol, decodeBig(t.word(accountTokenSlot(key, symbol))))
	}
	if t.err != nil {
		return nil, t.err
	}
	return acc, nil
}

// PutAccount implements otc.State.
func (t *Tx) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("evmstate: nil account")
	}
	var key [20]byte
	copy(key[:], addr)
	native, err := wordBig(account.BalanceNative)
	if err != nil {
		return t.record(err)
	}
	t.put(accountSlot(key, "nonce"), wordUint(account.Nonce))
	t.put(accountSlot(key, "native"), native)

	// Index maintenance: keep existing order, append unseen symbols in sorted
	// order so the same account state always yields the same slot layout.
	count := decodeUint(t.word(accountSlot(key, "symbolCount")))
	indexed := make(map[string]bool, count)
	for i := uint64(0); i < count; i++ {
		if symbol := decodeString(t.word(accountSymbolSlot(key, i))); symbol != "" {
			indexed[symbol] = true
		}
	}
	symbols := make([]string, 0, len(account.Tokens))
	for symbol := range account.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		word, err := wordBig(account.Tokens[symbol])
		if err != nil {
			return t.record(err)
		}
		t.put(accountTokenSlot(key, symbol), word)
		if !indexed[symbol] {
			encoded, err := wordString(symbol)
			if err != nil {
				return t.record(err)
			}
			t.put(accountSymbolSlot(key, count), encoded)
			count++
			indexed[symbol] = true
		}
	}
	t.put(accountSlot(key, "symbolCount"), wordUint(count))
	return t.err
}

// word fetches a slot, treating absence as the zero word.
func (t *Tx) word(key []byte) []byte {
	val, ok := t.get(key)
	if !ok {
		return nil
	}
	return val
}

func (t *Tx) record(err error) error {
	t.fail(err)
	return err
}
