package otc

import (
	"fmt"
	"math/big"
)

const (
	minQuoteExpirySecs int64  = 60
	maxP2PCommissionBps       = 500
	minBrokeredBps     uint16 = 25
	maxBrokeredBps     uint16 = 150
	// Price sanity bounds, 8 decimals: token prices up to $10,000, native
	// prices between $0.01 and $100,000.
	maxTokenUSD8d  uint64 = 1_000_000_000_000
	minNativeUSD8d uint64 = 1_000_000
	maxNativeUSD8d uint64 = 10_000_000_000_000
)

// DeskParams configures InitDesk.
type DeskParams struct {
	Owner           [20]byte
	Agent           [20]byte
	StableSymbol    string
	StableDecimals  uint8
	NativeDecimals  uint8
	MinUSD8d        uint64
	QuoteExpirySecs int64
}

// InitDesk creates the singleton desk. It fails if a desk already exists.
func (e *Engine) InitDesk(params DeskParams) (*Desk, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.DeskGet(); ok {
		return nil, fmt.Errorf("%w: desk already initialised", ErrBadState)
	}
	if params.Agent == ([20]byte{}) {
		return nil, fmt.Errorf("%w: agent required", ErrBadState)
	}
	if params.MinUSD8d == 0 {
		return nil, fmt.Errorf("%w: minimum USD amount required", ErrAmountRange)
	}
	// Quotes shorter than a minute invite race conditions between approval
	// and payment.
	if params.QuoteExpirySecs < minQuoteExpirySecs {
		return nil, fmt.Errorf("%w: quote expiry below %d seconds", ErrAmountRange, minQuoteExpirySecs)
	}
	stable, err := NormalizeSymbol(params.StableSymbol)
	if err != nil {
		return nil, err
	}
	if params.StableDecimals == 0 || params.StableDecimals > 18 {
		return nil, fmt.Errorf("%w: stable decimals out of range", ErrAmountRange)
	}
	nativeDecimals := params.NativeDecimals
	if nativeDecimals == 0 {
		nativeDecimals = 18
	}
	desk := &Desk{
		Owner:             params.Owner,
		Agent:             params.Agent,
		StableSymbol:      stable,
		StableDecimals:    params.StableDecimals,
		NativeDecimals:    nativeDecimals,
		MinUSD8d:          params.MinUSD8d,
		MaxTokenPerOrder:  big.NewInt(0),
		QuoteExpirySecs:   params.QuoteExpirySecs,
		MaxPriceAgeSecs:   3600,
		MaxLockupSecs:     365 * SecondsPerDay,
		NextConsignmentID: 1,
		NextOfferID:       1,
		P2PCommissionBps:  25,
	}
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	e.emit(NewDeskInitializedEvent(desk))
	return desk.Clone(), nil
}

// GetDesk returns a copy of the desk configuration. The accessor is
// side-effect free: the reconciliation collaborator may call it at any
// frequency.
func (e *Engine) GetDesk() (*Desk, error) {
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	return desk.Clone(), nil
}

// TransferOwner hands the desk to a new owner. Owner-only.
func (e *Engine) TransferOwner(caller, newOwner [20]byte) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: zero owner", ErrBadState)
	}
	desk.Owner = newOwner
	return e.state.DeskPut(desk)
}

// SetAgent rotates the operational agent address. Owner-only.
func (e *Engine) SetAgent(caller, newAgent [20]byte) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if newAgent == ([20]byte{}) {
		return fmt.Errorf("%w: zero agent", ErrBadState)
	}
	desk.Agent = newAgent
	return e.state.DeskPut(desk)
}

// SetApprover adds or removes an address from the approver set. Owner-only.
// The set is capped at MaxApprovers entries.
func (e *Engine) SetApprover(caller, who [20]byte, allowed bool) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if allowed {
		if desk.IsApprover(who) {
			return e.state.DeskPut(desk)
		}
		if len(desk.Approvers) >= MaxApprovers {
			return fmt.Errorf("%w: approver set full", ErrBadState)
		}
		desk.Approvers = append(desk.Approvers, who)
	} else {
		kept := desk.Approvers[:0]
		for _, approver := range desk.Approvers {
			if approver != who {
				kept = append(kept, approver)
			}
		}
		desk.Approvers = kept
	}
	return e.state.DeskPut(desk)
}

// LimitParams configures SetLimits.
type LimitParams struct {
	MinUSD8d               uint64
	MaxUSD8d               uint64
	MaxTokenPerOrder       *big.Int
	QuoteExpirySecs        int64
	DefaultUnlockDelaySecs int64
	MaxLockupSecs          int64
}

// SetLimits updates the desk order-size and lockup bounds. Owner-only.
func (e *Engine) SetLimits(caller [20]byte, params LimitParams) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if params.MinUSD8d == 0 {
		return fmt.Errorf("%w: minimum USD amount required", ErrAmountRange)
	}
	if params.MaxUSD8d != 0 && params.MaxUSD8d < params.MinUSD8d {
		return fmt.Errorf("%w: max USD below min", ErrAmountRange)
	}
	if params.QuoteExpirySecs < minQuoteExpirySecs {
		return fmt.Errorf("%w: quote expiry below %d seconds", ErrAmountRange, minQuoteExpirySecs)
	}
	if params.MaxLockupSecs < 0 {
		return fmt.Errorf("%w: negative max lockup", ErrAmountRange)
	}
	if params.DefaultUnlockDelaySecs < 0 || params.DefaultUnlockDelaySecs > params.MaxLockupSecs {
		return fmt.Errorf("%w: default unlock delay outside [0, max lockup]", ErrAmountRange)
	}
	desk.MinUSD8d = params.MinUSD8d
	desk.MaxUSD8d = params.MaxUSD8d
	desk.MaxTokenPerOrder = cloneBigInt(params.MaxTokenPerOrder)
	desk.QuoteExpirySecs = params.QuoteExpirySecs
	desk.DefaultUnlockDelaySecs = params.DefaultUnlockDelaySecs
	desk.MaxLockupSecs = params.MaxLockupSecs
	if err := e.state.DeskPut(desk); err != nil {
		return err
	}
	e.emit(NewLimitsUpdatedEvent(desk))
	return nil
}

// SetPrices updates the native/USD reference price and the staleness window.
// Owner-only.
func (e *Engine) SetPrices(caller [20]byte, nativeUSD8d uint64, maxAgeSecs int64) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if maxAgeSecs < 0 {
		return fmt.Errorf("%w: negative max price age", ErrAmountRange)
	}
	if nativeUSD8d < minNativeUSD8d || nativeUSD8d > maxNativeUSD8d {
		return fmt.Errorf("%w: native price outside bounds", ErrBadPrice)
	}
	desk.NativeUSDPrice8d = nativeUSD8d
	desk.PricesUpdatedAt = e.now()
	desk.MaxPriceAgeSecs = maxAgeSecs
	if err := e.state.DeskPut(desk); err != nil {
		return err
	}
	e.emit(NewPricesUpdatedEvent(desk))
	return nil
}

// SetRestrictFulfill toggles payer restriction on offer payment. Owner-only.
func (e *Engine) SetRestrictFulfill(caller [20]byte, enabled bool) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	desk.RestrictFulfill = enabled
	return e.state.DeskPut(desk)
}

// SetPaused pauses or resumes the desk. Owner-only. A paused desk rejects all
// mutating operations except the emergency-refund escape hatch.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	desk.Paused = paused
	if err := e.state.DeskPut(desk); err != nil {
		return err
	}
	e.emit(NewDeskPausedEvent(desk))
	return nil
}

// SetP2PCommission updates the desk-wide commission applied to non-negotiable
// consignment deals. Owner-only, capped at 5%.
func (e *Engine) SetP2PCommission(caller [20]byte, bps uint16) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if bps > maxP2PCommissionBps {
		return fmt.Errorf("%w: p2p commission above %d bps", ErrInvalidTerms, maxP2PCommissionBps)
	}
	desk.P2PCommissionBps = bps
	return e.state.DeskPut(desk)
}

// SetEmergencyRefund enables or disables the emergency-refund escape hatch.
// Owner-only. When enabling, the deadline is fixed at now + deadlineSecs;
// refunds become possible only once that absolute time has passed.
func (e *Engine) SetEmergencyRefund(caller [20]byte, enabled bool, deadlineSecs int64) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if enabled {
		if deadlineSecs < 0 {
			return fmt.Errorf("%w: negative refund deadline", ErrAmountRange)
		}
		desk.EmergencyRefundEnabled = true
		desk.EmergencyRefundDeadline = e.now() + deadlineSecs
	} else {
		desk.EmergencyRefundEnabled = false
		desk.EmergencyRefundDeadline = 0
	}
	if err := e.state.DeskPut(desk); err != nil {
		return err
	}
	e.emit(NewEmergencyRefundConfiguredEvent(desk))
	return nil
}
