package otc

import (
	"errors"
	"math/big"
	"testing"
)

func TestCreateConsignmentEscrowsInventory(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	consignment := newConsignment(t, engine, state, true)

	if consignment.ID != 1 {
		t.Fatalf("expected consignment id 1, got %d", consignment.ID)
	}
	if state.tokenBalance(testConsigner, testTokenSymbol).Sign() != 0 {
		t.Fatal("consigner balance should be fully escrowed")
	}
	if got := state.tokenBalance(state.treasury, testTokenSymbol); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("treasury holds %s, want 100000000", got)
	}
	if consignment.RemainingAmount.Cmp(consignment.TotalAmount) != 0 {
		t.Fatal("remaining must start equal to total")
	}
	if state.desk.NextConsignmentID != 2 {
		t.Fatalf("counter not advanced: %d", state.desk.NextConsignmentID)
	}
}

func TestCreateConsignmentValidations(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	base := ConsignmentParams{
		Consigner: testConsigner,
		Token:     testTokenSymbol,
		Amount:    big.NewInt(100_000_000),
		Terms:     fixedTerms(1000, 1),
	}

	// No balance minted yet: the escrow transfer itself must fail.
	if _, err := engine.CreateConsignment(base); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for unfunded consigner, got %v", err)
	}
	state.mintToken(testConsigner, testTokenSymbol, 100_000_000)

	zero := base
	zero.Amount = big.NewInt(0)
	if _, err := engine.CreateConsignment(zero); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange for zero amount, got %v", err)
	}
	badTerms := base
	badTerms.Terms = ConsignmentTerms{Negotiable: true, MinDiscountBps: 500, MaxDiscountBps: 100}
	if _, err := engine.CreateConsignment(badTerms); !errors.Is(err, ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms for inverted discounts, got %v", err)
	}
	hugeDiscount := base
	hugeDiscount.Terms = fixedTerms(BpsDenominator+1, 1)
	if _, err := engine.CreateConsignment(hugeDiscount); !errors.Is(err, ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms for discount above 100%%, got %v", err)
	}
	// A full giveaway is a valid consignment; its offers just fail the desk
	// minimum later.
	fullDiscount := base
	fullDiscount.Terms = fixedTerms(BpsDenominator, 1)
	if _, err := engine.CreateConsignment(fullDiscount); err != nil {
		t.Fatalf("100%% discount terms: %v", err)
	}
	private := base
	private.Private = true
	if _, err := engine.CreateConsignment(private); !errors.Is(err, ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms for private consignment without allow list, got %v", err)
	}
	unknownToken := base
	unknownToken.Token = "NOPE"
	if _, err := engine.CreateConsignment(unknownToken); !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("expected ErrTokenNotActive, got %v", err)
	}
}

func TestConsignmentPauseResumeLifecycle(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	consignment := newConsignment(t, engine, state, true)

	if err := engine.PauseConsignment(testOutsider, consignment.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.PauseConsignment(testConsigner, consignment.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := engine.PauseConsignment(testConsigner, consignment.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState on double pause, got %v", err)
	}
	if _, err := engine.CreateOfferFromConsignment(consignment.ID, OfferParams{
		Beneficiary: testBuyer,
		TokenAmount: big.NewInt(100_000_000),
		Currency:    CurrencyStable,
	}); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for offer against paused consignment, got %v", err)
	}
	if err := engine.ResumeConsignment(testConsigner, consignment.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := engine.CreateOfferFromConsignment(consignment.ID, OfferParams{
		Beneficiary: testBuyer,
		TokenAmount: big.NewInt(100_000_000),
		Currency:    CurrencyStable,
	}); err != nil {
		t.Fatalf("offer after resume: %v", err)
	}
}

func TestWithdrawConsignmentReturnsRemaining(t *testing.T) {
	engine, state, _ := newDeskEngine(t)
	consignment := newConsignment(t, engine, state, true)

	returned, err := engine.WithdrawConsignment(testConsigner, consignment.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if returned.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("returned %s, want 100000000", returned)
	}
	if got := state.tokenBalance(testConsigner, testTokenSymbol); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("consigner holds %s after withdrawal", got)
	}
	stored, err := engine.GetConsignment(consignment.ID)
	if err != nil {
		t.Fatalf("get consignment: %v", err)
	}
	if stored.Status != ConsignmentWithdrawn || stored.RemainingAmount.Sign() != 0 {
		t.Fatalf("unexpected post-withdrawal state: status=%d remaining=%s", stored.Status, stored.RemainingAmount)
	}
	if _, err := engine.WithdrawConsignment(testConsigner, consignment.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState on double withdrawal, got %v", err)
	}
}
