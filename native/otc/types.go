package otc

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// BpsDenominator is the basis-point scale used for discounts and
	// commissions.
	BpsDenominator = 10_000
	// USDDecimals is the fixed-point scale of every USD price (8 decimals).
	USDDecimals = 8
	// MaxApprovers bounds the desk approver set.
	MaxApprovers = 32
	// SecondsPerDay converts consignment lockup-day terms into seconds.
	SecondsPerDay int64 = 86_400
	// MaxSymbolLength bounds token symbols so every backend can store them
	// inline.
	MaxSymbolLength = 16
)

// Currency selects the payment asset of an offer.
type Currency uint8

const (
	// CurrencyNative settles the offer in the chain-native asset.
	CurrencyNative Currency = iota
	// CurrencyStable settles the offer in the desk stablecoin.
	CurrencyStable
)

// Valid reports whether the currency value is supported.
func (c Currency) Valid() bool {
	return c == CurrencyNative || c == CurrencyStable
}

// ConsignmentStatus represents the lifecycle states of consigned inventory.
type ConsignmentStatus uint8

const (
	ConsignmentActive ConsignmentStatus = iota
	ConsignmentPaused
	ConsignmentWithdrawn
)

// Valid reports whether the status value is within the supported range.
func (s ConsignmentStatus) Valid() bool {
	switch s {
	case ConsignmentActive, ConsignmentPaused, ConsignmentWithdrawn:
		return true
	default:
		return false
	}
}

// Desk is the singleton configuration and treasury root of one deployment.
// Counters are monotonically increasing and identifiers are never reused.
type Desk struct {
	Owner                   [20]byte
	Agent                   [20]byte
	Approvers               [][20]byte
	StableSymbol            string
	StableDecimals          uint8
	NativeDecimals          uint8
	MinUSD8d                uint64
	MaxUSD8d                uint64 // 0 disables the upper bound
	MaxTokenPerOrder        *big.Int
	QuoteExpirySecs         int64
	DefaultUnlockDelaySecs  int64
	MaxLockupSecs           int64
	MaxPriceAgeSecs         int64
	RestrictFulfill         bool
	NativeUSDPrice8d        uint64
	PricesUpdatedAt         int64
	NextConsignmentID       uint64
	NextOfferID             uint64
	Paused                  bool
	EmergencyRefundEnabled  bool
	EmergencyRefundDeadline int64 // absolute unix seconds
	P2PCommissionBps        uint16
}

// IsApprover reports whether the address belongs to the approver set.
func (d *Desk) IsApprover(addr [20]byte) bool {
	if d == nil {
		return false
	}
	for _, approver := range d.Approvers {
		if approver == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the desk.
func (d *Desk) Clone() *Desk {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Approvers = append([][20]byte(nil), d.Approvers...)
	if d.MaxTokenPerOrder != nil {
		clone.MaxTokenPerOrder = new(big.Int).Set(d.MaxTokenPerOrder)
	} else {
		clone.MaxTokenPerOrder = big.NewInt(0)
	}
	return &clone
}

// TokenRegistry records a tradeable token and its USD reference price, keyed
// by the normalised symbol. DeskInventory tracks the unconsigned treasury
// stock backing direct desk offers; consigned escrow never counts towards it.
type TokenRegistry struct {
	Symbol          string
	Decimals        uint8
	Active          bool
	USDPrice8d      uint64
	PricesUpdatedAt int64
	FeedID          [32]byte
	MaxDeviationBps uint16
	RegisteredBy    [20]byte
	DeskInventory   *big.Int
}

// Clone returns a copy of the registry record.
func (t *TokenRegistry) Clone() *TokenRegistry {
	if t == nil {
		return nil
	}
	clone := *t
	if t.DeskInventory != nil {
		clone.DeskInventory = new(big.Int).Set(t.DeskInventory)
	} else {
		clone.DeskInventory = big.NewInt(0)
	}
	return &clone
}

// ConsignmentTerms captures the sale terms of a consignment: either a fixed
// discount/lockup pair or a negotiable range.
type ConsignmentTerms struct {
	Negotiable       bool
	FixedDiscountBps uint16
	FixedLockupDays  uint32
	MinDiscountBps   uint16
	MaxDiscountBps   uint16
	MinLockupDays    uint32
	MaxLockupDays    uint32
}

// Consignment is a seller's escrowed inventory plus its sale terms.
type Consignment struct {
	ID              uint64
	Consigner       [20]byte
	Token           string
	TotalAmount     *big.Int
	RemainingAmount *big.Int
	Terms           ConsignmentTerms
	MinDealAmount   *big.Int
	MaxDealAmount   *big.Int
	Fractional      bool
	Private         bool
	AllowList       [][20]byte
	Status          ConsignmentStatus
	CreatedAt       int64
}

// Allowed reports whether the address may create offers against a private
// consignment.
func (c *Consignment) Allowed(addr [20]byte) bool {
	if c == nil {
		return false
	}
	if addr == c.Consigner {
		return true
	}
	for _, allowed := range c.AllowList {
		if allowed == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the consignment so callers can safely mutate
// the copy without affecting the stored instance.
func (c *Consignment) Clone() *Consignment {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalAmount = cloneBigInt(c.TotalAmount)
	clone.RemainingAmount = cloneBigInt(c.RemainingAmount)
	clone.MinDealAmount = cloneBigInt(c.MinDealAmount)
	clone.MaxDealAmount = cloneBigInt(c.MaxDealAmount)
	clone.AllowList = append([][20]byte(nil), c.AllowList...)
	return &clone
}

// Offer is a buyer's commitment to purchase from a consignment (or directly
// from the desk treasury when ConsignmentID is zero).
type Offer struct {
	ID               uint64
	ConsignmentID    uint64 // 0 means the offer draws on the desk treasury
	Beneficiary      [20]byte
	Token            string
	TokenDecimals    uint8
	TokenAmount      *big.Int
	DiscountBps      uint16
	LockupSecs       int64
	CreatedAt        int64
	UnlockTime       int64
	USDPrice8d       uint64
	NativeUSDPrice8d uint64
	Currency         Currency
	CommissionBps    uint16
	Approved         bool
	Paid             bool
	Fulfilled        bool
	Cancelled        bool
	Payer            [20]byte
	AmountPaid       *big.Int
}

// Terminal reports whether the offer reached a final state.
func (o *Offer) Terminal() bool {
	if o == nil {
		return false
	}
	return o.Fulfilled || o.Cancelled
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.TokenAmount = cloneBigInt(o.TokenAmount)
	clone.AmountPaid = cloneBigInt(o.AmountPaid)
	return &clone
}

// NormalizeSymbol canonicalises a token symbol to its uppercase trimmed form.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty token symbol", ErrTokenNotActive)
	}
	if len(trimmed) > MaxSymbolLength {
		return "", fmt.Errorf("%w: token symbol too long", ErrTokenNotActive)
	}
	return trimmed, nil
}

// SanitizeConsignment validates and normalises the supplied consignment,
// returning a cloned instance with canonical token casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeConsignment(c *Consignment) (*Consignment, error) {
	if c == nil {
		return nil, fmt.Errorf("otc: nil consignment")
	}
	clone := c.Clone()
	symbol, err := NormalizeSymbol(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = symbol
	if clone.TotalAmount.Sign() < 0 || clone.RemainingAmount.Sign() < 0 {
		return nil, fmt.Errorf("otc: consignment amounts must be non-negative")
	}
	if clone.RemainingAmount.Cmp(clone.TotalAmount) > 0 {
		return nil, fmt.Errorf("otc: remaining amount exceeds total")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("otc: invalid consignment status %d", clone.Status)
	}
	if clone.Terms.MaxDiscountBps > BpsDenominator || clone.Terms.FixedDiscountBps > BpsDenominator {
		return nil, fmt.Errorf("otc: consignment discount out of range")
	}
	return clone, nil
}

// SanitizeOffer validates and normalises the supplied offer, returning a
// cloned instance. The lifecycle invariants fulfilled ⇒ paid ⇒ approved and
// fulfilled ∧ cancelled = false are enforced here so corrupt records never
// re-enter the engine.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("otc: nil offer")
	}
	clone := o.Clone()
	symbol, err := NormalizeSymbol(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = symbol
	if !clone.Currency.Valid() {
		return nil, fmt.Errorf("otc: invalid offer currency %d", clone.Currency)
	}
	if clone.TokenAmount.Sign() <= 0 {
		return nil, fmt.Errorf("otc: offer token amount must be positive")
	}
	if clone.DiscountBps > BpsDenominator {
		return nil, fmt.Errorf("otc: offer discount out of range")
	}
	if clone.Fulfilled && clone.Cancelled {
		return nil, fmt.Errorf("otc: offer cannot be both fulfilled and cancelled")
	}
	if clone.Fulfilled && !clone.Paid {
		return nil, fmt.Errorf("otc: fulfilled offer must be paid")
	}
	if clone.Paid && !clone.Approved {
		return nil, fmt.Errorf("otc: paid offer must be approved")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
