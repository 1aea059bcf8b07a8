package otc

import (
	"errors"
	"math/big"
	"testing"
)

// paidStableOffer sets up a fully paid $180 stable offer and returns it.
func paidStableOffer(t *testing.T, engine *Engine, state *mockState) *Offer {
	t.Helper()
	offer := newPayableOffer(t, engine, state, CurrencyStable)
	state.mintToken(testPayer, testStableSymbol, 180_000_000)
	paid, err := engine.FulfillOfferStable(testPayer, offer.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	return paid
}

func TestEmergencyRefundLifecycle(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	offer := paidStableOffer(t, engine, state)

	// Disabled by default.
	if _, err := engine.EmergencyRefund(testPayer, offer.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState while disabled, got %v", err)
	}
	if err := engine.SetEmergencyRefund(testAgent, true, 1_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for agent, got %v", err)
	}
	if err := engine.SetEmergencyRefund(testOwner, true, 1_000); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}

	deadline := *now + 1_000
	*now = deadline - 1
	if _, err := engine.EmergencyRefund(testPayer, offer.ID); !errors.Is(err, ErrTooEarlyForRefund) {
		t.Fatalf("expected ErrTooEarlyForRefund before deadline, got %v", err)
	}
	*now = deadline
	refunded, err := engine.EmergencyRefund(testPayer, offer.ID)
	if err != nil {
		t.Fatalf("refund at deadline: %v", err)
	}
	if !refunded.Cancelled || refunded.Fulfilled {
		t.Fatalf("unexpected flags: cancelled=%t fulfilled=%t", refunded.Cancelled, refunded.Fulfilled)
	}
	// The payer gets exactly what they paid; the agent keeps the commission.
	if got := state.tokenBalance(testPayer, testStableSymbol); got.Cmp(big.NewInt(180_000_000)) != 0 {
		t.Fatalf("payer refunded %s, want 180000000", got)
	}
	// The sold inventory returns to the consignment.
	consignment, err := engine.GetConsignment(offer.ConsignmentID)
	if err != nil {
		t.Fatalf("get consignment: %v", err)
	}
	if consignment.RemainingAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("remaining %s after restock, want 100000000", consignment.RemainingAmount)
	}

	// Exactly once.
	if _, err := engine.EmergencyRefund(testPayer, offer.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState on double refund, got %v", err)
	}
	// A refunded offer can never be claimed.
	if _, err := engine.Claim(testBuyer, offer.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState claiming refunded offer, got %v", err)
	}
}

func TestEmergencyRefundCallerSet(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	offer := paidStableOffer(t, engine, state)
	if err := engine.SetEmergencyRefund(testOwner, true, 0); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	*now++

	if _, err := engine.EmergencyRefund(testOutsider, offer.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for outsider, got %v", err)
	}
	// Any party to the deal may trigger the refund, here an approver.
	if _, err := engine.EmergencyRefund(testApprover, offer.ID); err != nil {
		t.Fatalf("approver refund: %v", err)
	}
	if got := state.tokenBalance(testPayer, testStableSymbol); got.Cmp(big.NewInt(180_000_000)) != 0 {
		t.Fatalf("refund must go to the payer, payer holds %s", got)
	}
}

func TestEmergencyRefundRequiresPaidUnclaimedOffer(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	if err := engine.SetEmergencyRefund(testOwner, true, 0); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	unpaid := newPayableOffer(t, engine, state, CurrencyStable)
	if _, err := engine.EmergencyRefund(testBuyer, unpaid.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for unpaid offer, got %v", err)
	}

	claimed := paidStableOffer(t, engine, state)
	*now = claimed.UnlockTime
	if _, err := engine.Claim(testBuyer, claimed.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := engine.EmergencyRefund(testPayer, claimed.ID); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for claimed offer, got %v", err)
	}
}

func TestEmergencyRefundWorksWhilePaused(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	offer := paidStableOffer(t, engine, state)
	if err := engine.SetEmergencyRefund(testOwner, true, 0); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	if err := engine.SetPaused(testOwner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	*now++
	// The escape hatch ignores the pause flag.
	if _, err := engine.EmergencyRefund(testPayer, offer.ID); err != nil {
		t.Fatalf("refund while paused: %v", err)
	}
}

func TestEmergencyRefundRestocksDeskInventory(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	state.mintToken(testOwner, testTokenSymbol, 100_000_000)
	if err := engine.DepositTokens(testOwner, testTokenSymbol, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("deposit desk stock: %v", err)
	}
	offer := newDirectOffer(t, engine)
	state.mintToken(testPayer, testStableSymbol, 180_000_000)
	if _, err := engine.FulfillOfferStable(testPayer, offer.ID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := engine.SetEmergencyRefund(testOwner, true, 0); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	*now++

	if _, err := engine.EmergencyRefund(testPayer, offer.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	token, err := engine.GetTokenRegistry(testTokenSymbol)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token.DeskInventory.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("desk inventory %s after restock, want 100000000", token.DeskInventory)
	}
}

func TestEmergencyRefundAfterConsignmentWithdrawal(t *testing.T) {
	engine, state, now := newDeskEngine(t)
	offer := paidStableOffer(t, engine, state)
	if _, err := engine.WithdrawConsignment(testConsigner, offer.ConsignmentID); err != nil {
		t.Fatalf("withdraw consignment: %v", err)
	}
	if err := engine.SetEmergencyRefund(testOwner, true, 0); err != nil {
		t.Fatalf("enable refunds: %v", err)
	}
	*now++

	if _, err := engine.EmergencyRefund(testPayer, offer.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	// The withdrawn consignment cannot be restocked, so the sold lot goes
	// back to the consigner directly.
	if got := state.tokenBalance(testConsigner, testTokenSymbol); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("consigner holds %s, want 100000000", got)
	}
	consignment, err := engine.GetConsignment(offer.ConsignmentID)
	if err != nil {
		t.Fatalf("get consignment: %v", err)
	}
	if consignment.RemainingAmount.Sign() != 0 {
		t.Fatalf("withdrawn consignment remaining %s", consignment.RemainingAmount)
	}
}
