package otc

import (
	"fmt"
	"math/big"
)

// FulfillOfferStable pays an approved offer in the desk stablecoin.
func (e *Engine) FulfillOfferStable(payer [20]byte, id uint64) (*Offer, error) {
	return e.fulfillOffer(payer, id, CurrencyStable)
}

// FulfillOfferNative pays an approved offer in the chain-native asset.
func (e *Engine) FulfillOfferNative(payer [20]byte, id uint64) (*Offer, error) {
	return e.fulfillOffer(payer, id, CurrencyNative)
}

// fulfillOffer moves the payment into the treasury and commits the sold
// inventory. Because offer creation never reserves inventory, availability is
// re-checked here inside the same transition that decrements it: two offers
// racing for the same balance resolve strictly first-paid-wins.
func (e *Engine) fulfillOffer(payer [20]byte, id uint64, currency Currency) (*Offer, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if offer.Cancelled {
		return nil, fmt.Errorf("%w: offer %d cancelled", ErrBadState, id)
	}
	if !offer.Approved {
		return nil, fmt.Errorf("%w: offer %d not approved", ErrBadState, id)
	}
	if offer.Paid || offer.Fulfilled {
		return nil, fmt.Errorf("%w: offer %d already paid", ErrBadState, id)
	}
	if offer.Currency != currency {
		return nil, fmt.Errorf("%w: offer %d settles in a different currency", ErrBadState, id)
	}
	now := e.now()
	if desk.QuoteExpirySecs > 0 && now > offer.CreatedAt+desk.QuoteExpirySecs {
		return nil, fmt.Errorf("%w: offer %d quote expired", ErrBadState, id)
	}
	if desk.RestrictFulfill && payer != offer.Beneficiary && payer != desk.Owner && payer != desk.Agent && !desk.IsApprover(payer) {
		return nil, fmt.Errorf("%w: beneficiary or desk operator must pay", ErrUnauthorized)
	}

	// Commit inventory before taking the payment so a shortfall aborts the
	// transition with nothing moved. Direct desk offers draw from the tracked
	// desk inventory, never from consigned escrow sitting in the same treasury
	// account.
	var consignment *Consignment
	var token *TokenRegistry
	if offer.ConsignmentID != 0 {
		consignment, err = e.loadConsignment(offer.ConsignmentID)
		if err != nil {
			return nil, err
		}
		if consignment.RemainingAmount.Cmp(offer.TokenAmount) < 0 {
			return nil, fmt.Errorf("%w: consignment %d inventory exhausted", ErrAmountRange, consignment.ID)
		}
	} else {
		var ok bool
		token, ok = e.state.TokenGet(offer.Token)
		if !ok {
			return nil, fmt.Errorf("%w: %s not registered", ErrTokenNotActive, offer.Token)
		}
		if token.DeskInventory == nil || token.DeskInventory.Cmp(offer.TokenAmount) < 0 {
			return nil, fmt.Errorf("%w: desk inventory exhausted", ErrAmountRange)
		}
	}

	usd, err := discountedUSD8d(offer.TokenAmount, offer.USDPrice8d, offer.TokenDecimals, offer.DiscountBps)
	if err != nil {
		return nil, err
	}
	var payment *big.Int
	switch currency {
	case CurrencyStable:
		payment, err = stablePaymentAmount(usd, desk.StableDecimals)
		if err != nil {
			return nil, err
		}
		if err := e.transferToken(payer, e.state.TreasuryAddress(), desk.StableSymbol, payment); err != nil {
			return nil, err
		}
	case CurrencyNative:
		payment, err = nativePaymentAmount(usd, desk.NativeDecimals, offer.NativeUSDPrice8d)
		if err != nil {
			return nil, err
		}
		if err := e.transferNative(payer, e.state.TreasuryAddress(), payment); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown settlement currency", ErrBadState)
	}

	if consignment != nil {
		consignment.RemainingAmount = new(big.Int).Sub(consignment.RemainingAmount, offer.TokenAmount)
		if err := e.state.ConsignmentPut(consignment); err != nil {
			return nil, err
		}
		e.emit(NewConsignmentBalanceEvent(consignment))
	} else {
		token.DeskInventory = new(big.Int).Sub(token.DeskInventory, offer.TokenAmount)
		if err := e.state.TokenPut(token); err != nil {
			return nil, err
		}
		e.emit(NewDeskInventoryEvent(token))
	}

	offer.Paid = true
	offer.Payer = payer
	offer.AmountPaid = payment
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferPaidEvent(offer))
	return offer.Clone(), nil
}

func paymentDecimals(desk *Desk, currency Currency) uint8 {
	if currency == CurrencyNative {
		return desk.NativeDecimals
	}
	return desk.StableDecimals
}

// Claim releases the purchased tokens to the beneficiary once the lockup has
// elapsed. Claiming at exactly the unlock time succeeds; one second earlier
// fails with ErrTooEarlyToClaim.
//
// The broker commission is paid out here rather than at payment time: until
// the claim the full AmountPaid stays in the treasury, so an emergency refund
// can always return it whole.
func (e *Engine) Claim(caller [20]byte, id uint64) (*Offer, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if caller != offer.Beneficiary {
		return nil, fmt.Errorf("%w: beneficiary required", ErrUnauthorized)
	}
	if offer.Cancelled {
		return nil, fmt.Errorf("%w: offer %d cancelled", ErrBadState, id)
	}
	if !offer.Paid {
		return nil, fmt.Errorf("%w: offer %d not paid", ErrBadState, id)
	}
	if offer.Fulfilled {
		return nil, fmt.Errorf("%w: offer %d already claimed", ErrBadState, id)
	}
	if e.now() < offer.UnlockTime {
		return nil, fmt.Errorf("%w: offer %d unlocks at %d", ErrTooEarlyToClaim, id, offer.UnlockTime)
	}
	if err := e.transferToken(e.state.TreasuryAddress(), offer.Beneficiary, offer.Token, offer.TokenAmount); err != nil {
		return nil, err
	}
	if offer.ConsignmentID != 0 && offer.CommissionBps > 0 {
		usd, err := discountedUSD8d(offer.TokenAmount, offer.USDPrice8d, offer.TokenDecimals, offer.DiscountBps)
		if err != nil {
			return nil, err
		}
		fee, err := commissionAmount(usd, offer.CommissionBps, paymentDecimals(desk, offer.Currency), offer.NativeUSDPrice8d, offer.Currency == CurrencyNative)
		if err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			if offer.Currency == CurrencyStable {
				err = e.transferToken(e.state.TreasuryAddress(), desk.Agent, desk.StableSymbol, fee)
			} else {
				err = e.transferNative(e.state.TreasuryAddress(), desk.Agent, fee)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	offer.Fulfilled = true
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferClaimedEvent(offer))
	return offer.Clone(), nil
}

// DepositTokens moves tokens from the owner into the desk treasury and adds
// them to the tracked desk inventory backing direct offers. Owner-only.
func (e *Engine) DepositTokens(caller [20]byte, symbol string, amount *big.Int) error {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	token, err := e.loadActiveToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrAmountRange)
	}
	if err := e.transferToken(caller, e.state.TreasuryAddress(), token.Symbol, amount); err != nil {
		return err
	}
	token.DeskInventory = new(big.Int).Add(token.DeskInventory, amount)
	if err := e.state.TokenPut(token); err != nil {
		return err
	}
	e.emit(NewDeskInventoryEvent(token))
	return nil
}

// WithdrawTokens returns unsold desk inventory from the treasury to the
// owner. Owner-only. Consigned escrow is out of reach: withdrawals are capped
// at the tracked desk inventory.
func (e *Engine) WithdrawTokens(caller [20]byte, symbol string, amount *big.Int) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	token, err := e.loadActiveToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrAmountRange)
	}
	if token.DeskInventory == nil || amount.Cmp(token.DeskInventory) > 0 {
		return fmt.Errorf("%w: withdrawal exceeds desk inventory", ErrAmountRange)
	}
	if err := e.transferToken(e.state.TreasuryAddress(), caller, token.Symbol, amount); err != nil {
		return err
	}
	token.DeskInventory = new(big.Int).Sub(token.DeskInventory, amount)
	if err := e.state.TokenPut(token); err != nil {
		return err
	}
	e.emit(NewDeskInventoryEvent(token))
	return nil
}

// WithdrawStable moves settlement proceeds out of the treasury. Owner-only.
// Only the stablecoin balance is reachable here; escrowed token inventory can
// only leave through claims and consignment withdrawals. The owner is
// responsible for leaving enough balance to cover unclaimed payments, which
// remain refundable until claimed.
func (e *Engine) WithdrawStable(caller, to [20]byte, amount *big.Int) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrAmountRange)
	}
	if err := e.transferToken(e.state.TreasuryAddress(), to, desk.StableSymbol, amount); err != nil {
		return err
	}
	e.emit(NewTreasuryWithdrawalEvent(desk.StableSymbol, to, amount))
	return nil
}

// WithdrawNative moves native-asset proceeds out of the treasury. Owner-only.
func (e *Engine) WithdrawNative(caller, to [20]byte, amount *big.Int) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrAmountRange)
	}
	if err := e.transferNative(e.state.TreasuryAddress(), to, amount); err != nil {
		return err
	}
	e.emit(NewTreasuryWithdrawalEvent("", to, amount))
	return nil
}
