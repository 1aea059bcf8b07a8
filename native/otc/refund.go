package otc

import (
	"fmt"
	"math/big"
)

// EmergencyRefund returns a paid-but-unclaimed offer's payment to its payer.
// The escape hatch must be enabled by the owner and its absolute deadline
// reached. Any party to the deal may trigger it: the payer, the beneficiary,
// the owner, the agent, or an approver. The refund deliberately ignores the
// desk pause flag so funds cannot be trapped by a stalled desk.
//
// Sold inventory returns to the consignment (or to the desk inventory for
// direct offers) and the offer ends cancelled, so a refunded offer can never
// also be claimed.
func (e *Engine) EmergencyRefund(caller [20]byte, id uint64) (*Offer, error) {
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if !desk.EmergencyRefundEnabled {
		return nil, fmt.Errorf("%w: emergency refunds disabled", ErrBadState)
	}
	if e.now() < desk.EmergencyRefundDeadline {
		return nil, fmt.Errorf("%w: refunds open at %d", ErrTooEarlyForRefund, desk.EmergencyRefundDeadline)
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if !offer.Paid {
		return nil, fmt.Errorf("%w: offer %d not paid", ErrBadState, id)
	}
	if offer.Fulfilled {
		return nil, fmt.Errorf("%w: offer %d already claimed", ErrBadState, id)
	}
	if offer.Cancelled {
		return nil, fmt.Errorf("%w: offer %d already refunded", ErrBadState, id)
	}
	if caller != offer.Payer && caller != offer.Beneficiary &&
		caller != desk.Owner && caller != desk.Agent && !desk.IsApprover(caller) {
		return nil, fmt.Errorf("%w: not a party to offer %d", ErrUnauthorized, id)
	}

	switch offer.Currency {
	case CurrencyStable:
		if err := e.transferToken(e.state.TreasuryAddress(), offer.Payer, desk.StableSymbol, offer.AmountPaid); err != nil {
			return nil, err
		}
	case CurrencyNative:
		if err := e.transferNative(e.state.TreasuryAddress(), offer.Payer, offer.AmountPaid); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown settlement currency", ErrBadState)
	}

	// Restock the consignment unless the seller already withdrew it. Direct
	// offers return their tokens to the tracked desk inventory.
	if offer.ConsignmentID != 0 {
		consignment, err := e.loadConsignment(offer.ConsignmentID)
		if err != nil {
			return nil, err
		}
		if consignment.Status != ConsignmentWithdrawn {
			consignment.RemainingAmount.Add(consignment.RemainingAmount, offer.TokenAmount)
			if err := e.state.ConsignmentPut(consignment); err != nil {
				return nil, err
			}
			e.emit(NewConsignmentBalanceEvent(consignment))
		} else {
			if err := e.transferToken(e.state.TreasuryAddress(), consignment.Consigner, consignment.Token, offer.TokenAmount); err != nil {
				return nil, err
			}
		}
	} else {
		token, ok := e.state.TokenGet(offer.Token)
		if !ok {
			return nil, fmt.Errorf("%w: %s not registered", ErrTokenNotActive, offer.Token)
		}
		if token.DeskInventory == nil {
			token.DeskInventory = big.NewInt(0)
		}
		token.DeskInventory = new(big.Int).Add(token.DeskInventory, offer.TokenAmount)
		if err := e.state.TokenPut(token); err != nil {
			return nil, err
		}
		e.emit(NewDeskInventoryEvent(token))
	}

	offer.Cancelled = true
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferRefundedEvent(offer))
	return offer.Clone(), nil
}
