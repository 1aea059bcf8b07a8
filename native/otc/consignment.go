package otc

import (
	"fmt"
	"math/big"
)

const maxAllowListEntries = 64

// ConsignmentParams configures CreateConsignment.
type ConsignmentParams struct {
	Consigner     [20]byte
	Token         string
	Amount        *big.Int
	Terms         ConsignmentTerms
	MinDealAmount *big.Int
	MaxDealAmount *big.Int
	Fractional    bool
	Private       bool
	AllowList     [][20]byte
}

func validateTerms(desk *Desk, terms ConsignmentTerms) error {
	if terms.Negotiable {
		if terms.MinDiscountBps > terms.MaxDiscountBps {
			return fmt.Errorf("%w: discount range inverted", ErrInvalidTerms)
		}
		if terms.MaxDiscountBps > BpsDenominator {
			return fmt.Errorf("%w: discount above 100%%", ErrInvalidTerms)
		}
		if terms.MinLockupDays > terms.MaxLockupDays {
			return fmt.Errorf("%w: lockup range inverted", ErrInvalidTerms)
		}
		if int64(terms.MaxLockupDays)*SecondsPerDay > desk.MaxLockupSecs {
			return fmt.Errorf("%w: lockup beyond desk maximum", ErrInvalidTerms)
		}
		return nil
	}
	if terms.FixedDiscountBps > BpsDenominator {
		return fmt.Errorf("%w: discount above 100%%", ErrInvalidTerms)
	}
	if int64(terms.FixedLockupDays)*SecondsPerDay > desk.MaxLockupSecs {
		return fmt.Errorf("%w: lockup beyond desk maximum", ErrInvalidTerms)
	}
	return nil
}

// CreateConsignment escrows the seller's tokens into the desk treasury and
// records the consignment under a fresh identifier. The escrow transfer and
// the record write happen in the same state transition.
func (e *Engine) CreateConsignment(params ConsignmentParams) (*Consignment, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	token, err := e.loadActiveToken(params.Token)
	if err != nil {
		return nil, err
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: consignment amount must be positive", ErrAmountRange)
	}
	if err := validateTerms(desk, params.Terms); err != nil {
		return nil, err
	}
	minDeal := cloneBigInt(params.MinDealAmount)
	maxDeal := cloneBigInt(params.MaxDealAmount)
	if minDeal.Sign() < 0 || maxDeal.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative deal bound", ErrAmountRange)
	}
	if maxDeal.Sign() > 0 && minDeal.Cmp(maxDeal) > 0 {
		return nil, fmt.Errorf("%w: deal bounds inverted", ErrAmountRange)
	}
	if minDeal.Cmp(params.Amount) > 0 {
		return nil, fmt.Errorf("%w: minimum deal exceeds consignment", ErrAmountRange)
	}
	if params.Private && len(params.AllowList) == 0 {
		return nil, fmt.Errorf("%w: private consignment needs an allow list", ErrInvalidTerms)
	}
	if len(params.AllowList) > maxAllowListEntries {
		return nil, fmt.Errorf("%w: allow list too large", ErrInvalidTerms)
	}
	if err := e.transferToken(params.Consigner, e.state.TreasuryAddress(), token.Symbol, params.Amount); err != nil {
		return nil, err
	}
	consignment := &Consignment{
		ID:              desk.NextConsignmentID,
		Consigner:       params.Consigner,
		Token:           token.Symbol,
		TotalAmount:     cloneBigInt(params.Amount),
		RemainingAmount: cloneBigInt(params.Amount),
		Terms:           params.Terms,
		MinDealAmount:   minDeal,
		MaxDealAmount:   maxDeal,
		Fractional:      params.Fractional,
		Private:         params.Private,
		AllowList:       append([][20]byte(nil), params.AllowList...),
		Status:          ConsignmentActive,
		CreatedAt:       e.now(),
	}
	if err := e.state.ConsignmentPut(consignment); err != nil {
		return nil, err
	}
	desk.NextConsignmentID++
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	e.emit(NewConsignmentCreatedEvent(consignment))
	return consignment.Clone(), nil
}

// PauseConsignment stops new offers against the consignment. Consigner-only.
// Open offers are unaffected.
func (e *Engine) PauseConsignment(caller [20]byte, id uint64) error {
	return e.setConsignmentStatus(caller, id, ConsignmentActive, ConsignmentPaused)
}

// ResumeConsignment re-opens a paused consignment for offers. Consigner-only.
func (e *Engine) ResumeConsignment(caller [20]byte, id uint64) error {
	return e.setConsignmentStatus(caller, id, ConsignmentPaused, ConsignmentActive)
}

func (e *Engine) setConsignmentStatus(caller [20]byte, id uint64, from, to ConsignmentStatus) error {
	if _, err := e.loadActiveDesk(); err != nil {
		return err
	}
	consignment, err := e.loadConsignment(id)
	if err != nil {
		return err
	}
	if caller != consignment.Consigner {
		return fmt.Errorf("%w: consigner required", ErrUnauthorized)
	}
	if consignment.Status != from {
		return fmt.Errorf("%w: consignment %d not %v", ErrBadState, id, from)
	}
	consignment.Status = to
	if err := e.state.ConsignmentPut(consignment); err != nil {
		return err
	}
	e.emit(NewConsignmentStatusEvent(consignment))
	return nil
}

// WithdrawConsignment closes the consignment and returns the unsold balance
// to the consigner. Consigner-only. The consignment keeps its identifier and
// record; only its status and remaining amount change. Inventory already
// committed to paid offers stays in the treasury for the buyers to claim.
func (e *Engine) WithdrawConsignment(caller [20]byte, id uint64) (*big.Int, error) {
	if _, err := e.loadActiveDesk(); err != nil {
		return nil, err
	}
	consignment, err := e.loadConsignment(id)
	if err != nil {
		return nil, err
	}
	if caller != consignment.Consigner {
		return nil, fmt.Errorf("%w: consigner required", ErrUnauthorized)
	}
	if consignment.Status == ConsignmentWithdrawn {
		return nil, fmt.Errorf("%w: consignment %d already withdrawn", ErrBadState, id)
	}
	returned := cloneBigInt(consignment.RemainingAmount)
	if returned.Sign() > 0 {
		if err := e.transferToken(e.state.TreasuryAddress(), consignment.Consigner, consignment.Token, returned); err != nil {
			return nil, err
		}
	}
	consignment.RemainingAmount = big.NewInt(0)
	consignment.Status = ConsignmentWithdrawn
	if err := e.state.ConsignmentPut(consignment); err != nil {
		return nil, err
	}
	e.emit(NewConsignmentStatusEvent(consignment))
	return returned, nil
}

// GetConsignment returns a copy of the consignment record.
func (e *Engine) GetConsignment(id uint64) (*Consignment, error) {
	consignment, err := e.loadConsignment(id)
	if err != nil {
		return nil, err
	}
	return consignment.Clone(), nil
}
