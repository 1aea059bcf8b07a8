package otc

import (
	"fmt"
	"math/big"
)

// OfferParams configures CreateOffer and CreateOfferFromConsignment.
type OfferParams struct {
	Beneficiary   [20]byte
	Token         string // ignored for consignment offers
	TokenAmount   *big.Int
	DiscountBps   uint16
	LockupSecs    int64 // ignored for consignment offers
	Currency      Currency
	CommissionBps uint16 // negotiated broker fee, negotiable consignments only
}

func (e *Engine) requireFreshPrice(desk *Desk, price uint64, updatedAt int64, what string) error {
	if price == 0 {
		return fmt.Errorf("%w: %s price unset", ErrBadPrice, what)
	}
	if desk.MaxPriceAgeSecs > 0 && e.now()-updatedAt > desk.MaxPriceAgeSecs {
		return fmt.Errorf("%w: %s price older than %ds", ErrStalePrice, what, desk.MaxPriceAgeSecs)
	}
	return nil
}

func (e *Engine) checkOrderSize(desk *Desk, token *TokenRegistry, amount *big.Int, discountBps uint16) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: token amount must be positive", ErrAmountRange)
	}
	if desk.MaxTokenPerOrder != nil && desk.MaxTokenPerOrder.Sign() > 0 && amount.Cmp(desk.MaxTokenPerOrder) > 0 {
		return nil, fmt.Errorf("%w: token amount above per-order cap", ErrAmountRange)
	}
	usd, err := discountedUSD8d(amount, token.USDPrice8d, token.Decimals, discountBps)
	if err != nil {
		return nil, err
	}
	if usd.Cmp(new(big.Int).SetUint64(desk.MinUSD8d)) < 0 {
		return nil, fmt.Errorf("%w: deal below desk minimum", ErrAmountRange)
	}
	if desk.MaxUSD8d > 0 && usd.Cmp(new(big.Int).SetUint64(desk.MaxUSD8d)) > 0 {
		return nil, fmt.Errorf("%w: deal above desk maximum", ErrAmountRange)
	}
	return usd, nil
}

// CreateOffer opens an offer against the desk's own treasury inventory.
// Inventory is not reserved at this point: availability is checked again at
// payment time, so competing offers may race for the same balance. Direct
// offers carry no commission and always require explicit approval.
func (e *Engine) CreateOffer(params OfferParams) (*Offer, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	token, err := e.loadActiveToken(params.Token)
	if err != nil {
		return nil, err
	}
	if !params.Currency.Valid() {
		return nil, fmt.Errorf("%w: unknown settlement currency", ErrBadState)
	}
	if params.DiscountBps > BpsDenominator {
		return nil, fmt.Errorf("%w: discount above 100%%", ErrInvalidTerms)
	}
	if err := e.requireFreshPrice(desk, token.USDPrice8d, token.PricesUpdatedAt, token.Symbol); err != nil {
		return nil, err
	}
	if params.Currency == CurrencyNative {
		if err := e.requireFreshPrice(desk, desk.NativeUSDPrice8d, desk.PricesUpdatedAt, "native"); err != nil {
			return nil, err
		}
	}
	if _, err := e.checkOrderSize(desk, token, params.TokenAmount, params.DiscountBps); err != nil {
		return nil, err
	}
	lockup := params.LockupSecs
	if lockup == 0 {
		lockup = desk.DefaultUnlockDelaySecs
	}
	if lockup < 0 || lockup > desk.MaxLockupSecs {
		return nil, fmt.Errorf("%w: lockup beyond desk maximum", ErrInvalidTerms)
	}
	createdAt := e.now()
	offer := &Offer{
		ID:               desk.NextOfferID,
		Beneficiary:      params.Beneficiary,
		Token:            token.Symbol,
		TokenDecimals:    token.Decimals,
		TokenAmount:      cloneBigInt(params.TokenAmount),
		DiscountBps:      params.DiscountBps,
		LockupSecs:       lockup,
		CreatedAt:        createdAt,
		UnlockTime:       createdAt + lockup,
		USDPrice8d:       token.USDPrice8d,
		NativeUSDPrice8d: desk.NativeUSDPrice8d,
		Currency:         params.Currency,
		AmountPaid:       big.NewInt(0),
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	desk.NextOfferID++
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return offer.Clone(), nil
}

// CreateOfferFromConsignment opens an offer against consigned inventory.
// Non-negotiable consignments pin the discount and lockup to the fixed terms,
// charge the desk-wide commission, and auto-approve the offer. Negotiable
// consignments take the requested discount (within the advertised range) and
// a broker commission negotiated off-ledger, and wait for explicit approval.
func (e *Engine) CreateOfferFromConsignment(consignmentID uint64, params OfferParams) (*Offer, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	consignment, err := e.loadConsignment(consignmentID)
	if err != nil {
		return nil, err
	}
	if consignment.Status != ConsignmentActive {
		return nil, fmt.Errorf("%w: consignment %d not active", ErrBadState, consignmentID)
	}
	if consignment.Private && !consignment.Allowed(params.Beneficiary) {
		return nil, fmt.Errorf("%w: beneficiary not on allow list", ErrUnauthorized)
	}
	token, err := e.loadActiveToken(consignment.Token)
	if err != nil {
		return nil, err
	}
	if !params.Currency.Valid() {
		return nil, fmt.Errorf("%w: unknown settlement currency", ErrBadState)
	}
	if err := e.requireFreshPrice(desk, token.USDPrice8d, token.PricesUpdatedAt, token.Symbol); err != nil {
		return nil, err
	}
	if params.Currency == CurrencyNative {
		if err := e.requireFreshPrice(desk, desk.NativeUSDPrice8d, desk.PricesUpdatedAt, "native"); err != nil {
			return nil, err
		}
	}

	terms := consignment.Terms
	var discount uint16
	var lockup int64
	var commission uint16
	if terms.Negotiable {
		if params.DiscountBps < terms.MinDiscountBps || params.DiscountBps > terms.MaxDiscountBps {
			return nil, fmt.Errorf("%w: discount outside advertised range", ErrInvalidTerms)
		}
		if params.CommissionBps < minBrokeredBps || params.CommissionBps > maxBrokeredBps {
			return nil, fmt.Errorf("%w: broker commission outside %d-%d bps", ErrInvalidTerms, minBrokeredBps, maxBrokeredBps)
		}
		discount = params.DiscountBps
		lockup = params.LockupSecs
		if lockup < int64(terms.MinLockupDays)*SecondsPerDay || lockup > int64(terms.MaxLockupDays)*SecondsPerDay {
			return nil, fmt.Errorf("%w: lockup outside advertised range", ErrInvalidTerms)
		}
		commission = params.CommissionBps
	} else {
		discount = terms.FixedDiscountBps
		lockup = int64(terms.FixedLockupDays) * SecondsPerDay
		commission = desk.P2PCommissionBps
	}

	amount := params.TokenAmount
	if !consignment.Fractional {
		if amount == nil || amount.Cmp(consignment.RemainingAmount) != 0 {
			return nil, fmt.Errorf("%w: non-fractional consignment sells whole", ErrAmountRange)
		}
	} else {
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: token amount must be positive", ErrAmountRange)
		}
		if consignment.MinDealAmount.Sign() > 0 && amount.Cmp(consignment.MinDealAmount) < 0 {
			return nil, fmt.Errorf("%w: below consignment minimum deal", ErrAmountRange)
		}
		if consignment.MaxDealAmount.Sign() > 0 && amount.Cmp(consignment.MaxDealAmount) > 0 {
			return nil, fmt.Errorf("%w: above consignment maximum deal", ErrAmountRange)
		}
	}
	if amount.Cmp(consignment.RemainingAmount) > 0 {
		return nil, fmt.Errorf("%w: offer exceeds remaining inventory", ErrAmountRange)
	}
	if _, err := e.checkOrderSize(desk, token, amount, discount); err != nil {
		return nil, err
	}

	createdAt := e.now()
	offer := &Offer{
		ID:               desk.NextOfferID,
		ConsignmentID:    consignmentID,
		Beneficiary:      params.Beneficiary,
		Token:            token.Symbol,
		TokenDecimals:    token.Decimals,
		TokenAmount:      cloneBigInt(amount),
		DiscountBps:      discount,
		LockupSecs:       lockup,
		CreatedAt:        createdAt,
		UnlockTime:       createdAt + lockup,
		USDPrice8d:       token.USDPrice8d,
		NativeUSDPrice8d: desk.NativeUSDPrice8d,
		Currency:         params.Currency,
		CommissionBps:    commission,
		Approved:         !terms.Negotiable,
		AmountPaid:       big.NewInt(0),
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	desk.NextOfferID++
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return offer.Clone(), nil
}

// ApproveOffer marks an offer as payable. Owner, agent, or approver only.
// Re-approving an already approved offer is a no-op so duplicate submissions
// by concurrent approvers never fail.
func (e *Engine) ApproveOffer(caller [20]byte, id uint64) error {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner && caller != desk.Agent && !desk.IsApprover(caller) {
		return fmt.Errorf("%w: approver required", ErrUnauthorized)
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return err
	}
	if offer.Cancelled {
		return fmt.Errorf("%w: offer %d cancelled", ErrBadState, id)
	}
	if offer.Approved {
		return nil
	}
	offer.Approved = true
	if err := e.state.OfferPut(offer); err != nil {
		return err
	}
	e.emit(NewOfferApprovedEvent(offer))
	return nil
}

// CancelOffer voids an unpaid offer. The owner, agent, and approvers may
// cancel at any time; the beneficiary may walk away from their own offer only
// once its quote has expired. Paid offers cannot be cancelled here, only
// refunded through the emergency path.
func (e *Engine) CancelOffer(caller [20]byte, id uint64) error {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return err
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return err
	}
	operator := caller == desk.Owner || caller == desk.Agent || desk.IsApprover(caller)
	if !operator {
		if caller != offer.Beneficiary {
			return fmt.Errorf("%w: beneficiary or desk operator required", ErrUnauthorized)
		}
		if desk.QuoteExpirySecs > 0 && e.now() <= offer.CreatedAt+desk.QuoteExpirySecs {
			return fmt.Errorf("%w: offer %d quote still live", ErrBadState, id)
		}
	}
	if offer.Paid || offer.Fulfilled {
		return fmt.Errorf("%w: offer %d already paid", ErrBadState, id)
	}
	if offer.Cancelled {
		return fmt.Errorf("%w: offer %d already cancelled", ErrBadState, id)
	}
	offer.Cancelled = true
	if err := e.state.OfferPut(offer); err != nil {
		return err
	}
	e.emit(NewOfferCancelledEvent(offer))
	return nil
}

// GetOffer returns a copy of the offer record.
func (e *Engine) GetOffer(id uint64) (*Offer, error) {
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	return offer.Clone(), nil
}
