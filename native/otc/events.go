package otc

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"otcdesk/core/types"
)

const (
	EventTypeDeskInitialized       = "otc.desk.initialized"
	EventTypeDeskLimitsUpdated     = "otc.desk.limits_updated"
	EventTypeDeskPricesUpdated     = "otc.desk.prices_updated"
	EventTypeDeskPaused            = "otc.desk.paused"
	EventTypeEmergencyRefundConfig = "otc.desk.emergency_refund"
	EventTypeTokenRegistered       = "otc.token.registered"
	EventTypeTokenActive           = "otc.token.active"
	EventTypeTokenPrice            = "otc.token.price"
	EventTypeDeskInventory         = "otc.token.desk_inventory"
	EventTypeConsignmentCreated    = "otc.consignment.created"
	EventTypeConsignmentStatus     = "otc.consignment.status"
	EventTypeConsignmentBalance    = "otc.consignment.balance"
	EventTypeOfferCreated          = "otc.offer.created"
	EventTypeOfferApproved         = "otc.offer.approved"
	EventTypeOfferCancelled        = "otc.offer.cancelled"
	EventTypeOfferPaid             = "otc.offer.paid"
	EventTypeOfferClaimed          = "otc.offer.claimed"
	EventTypeOfferRefunded         = "otc.offer.refunded"
	EventTypeTreasuryWithdrawal    = "otc.treasury.withdrawal"
)

// NewDeskInitializedEvent returns the canonical payload for desk creation.
func NewDeskInitializedEvent(d *Desk) *types.Event { return newDeskEvent(EventTypeDeskInitialized, d) }

// NewLimitsUpdatedEvent returns the payload emitted when the desk bounds
// change.
func NewLimitsUpdatedEvent(d *Desk) *types.Event { return newDeskEvent(EventTypeDeskLimitsUpdated, d) }

// NewPricesUpdatedEvent returns the payload emitted when the native reference
// price changes.
func NewPricesUpdatedEvent(d *Desk) *types.Event { return newDeskEvent(EventTypeDeskPricesUpdated, d) }

// NewDeskPausedEvent returns the payload emitted when the desk is paused or
// resumed.
func NewDeskPausedEvent(d *Desk) *types.Event { return newDeskEvent(EventTypeDeskPaused, d) }

// NewEmergencyRefundConfiguredEvent returns the payload emitted when the
// emergency-refund escape hatch is reconfigured.
func NewEmergencyRefundConfiguredEvent(d *Desk) *types.Event {
	return newDeskEvent(EventTypeEmergencyRefundConfig, d)
}

// NewTokenRegisteredEvent returns the payload for a new registry entry.
func NewTokenRegisteredEvent(t *TokenRegistry) *types.Event {
	return newTokenEvent(EventTypeTokenRegistered, t)
}

// NewTokenActiveEvent returns the payload emitted when a token is activated or
// deactivated.
func NewTokenActiveEvent(t *TokenRegistry) *types.Event {
	return newTokenEvent(EventTypeTokenActive, t)
}

// NewTokenPriceEvent returns the payload emitted when a token price is posted.
func NewTokenPriceEvent(t *TokenRegistry) *types.Event {
	return newTokenEvent(EventTypeTokenPrice, t)
}

// NewDeskInventoryEvent returns the payload emitted when the unconsigned desk
// stock of a token changes.
func NewDeskInventoryEvent(t *TokenRegistry) *types.Event {
	return newTokenEvent(EventTypeDeskInventory, t)
}

// NewConsignmentCreatedEvent returns the payload for a new consignment.
func NewConsignmentCreatedEvent(c *Consignment) *types.Event {
	return newConsignmentEvent(EventTypeConsignmentCreated, c)
}

// NewConsignmentStatusEvent returns the payload emitted on pause, resume, and
// withdrawal.
func NewConsignmentStatusEvent(c *Consignment) *types.Event {
	return newConsignmentEvent(EventTypeConsignmentStatus, c)
}

// NewConsignmentBalanceEvent returns the payload emitted on deposits and
// partial withdrawals.
func NewConsignmentBalanceEvent(c *Consignment) *types.Event {
	return newConsignmentEvent(EventTypeConsignmentBalance, c)
}

// NewOfferCreatedEvent returns the payload for a newly opened offer.
func NewOfferCreatedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferCreated, o) }

// NewOfferApprovedEvent returns the payload emitted when an offer becomes
// payable.
func NewOfferApprovedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferApproved, o) }

// NewOfferCancelledEvent returns the payload for a voided offer.
func NewOfferCancelledEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferCancelled, o) }

// NewOfferPaidEvent returns the payload emitted when an offer is paid.
func NewOfferPaidEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferPaid, o) }

// NewOfferClaimedEvent returns the payload emitted when the beneficiary takes
// delivery.
func NewOfferClaimedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferClaimed, o) }

// NewOfferRefundedEvent returns the payload for an emergency refund.
func NewOfferRefundedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferRefunded, o) }

// NewTreasuryWithdrawalEvent returns the payload emitted when the owner moves
// proceeds out of the treasury. An empty symbol denotes the native asset.
func NewTreasuryWithdrawalEvent(symbol string, to [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"to": hex.EncodeToString(to[:]),
	}
	if symbol != "" {
		attrs["token"] = symbol
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeTreasuryWithdrawal, Attributes: attrs}
}

func newDeskEvent(eventType string, d *Desk) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["owner"] = hex.EncodeToString(d.Owner[:])
	attrs["agent"] = hex.EncodeToString(d.Agent[:])
	attrs["stableSymbol"] = d.StableSymbol
	attrs["minUsd8d"] = strconv.FormatUint(d.MinUSD8d, 10)
	attrs["maxUsd8d"] = strconv.FormatUint(d.MaxUSD8d, 10)
	attrs["quoteExpirySecs"] = strconv.FormatInt(d.QuoteExpirySecs, 10)
	attrs["paused"] = strconv.FormatBool(d.Paused)
	attrs["refundEnabled"] = strconv.FormatBool(d.EmergencyRefundEnabled)
	if d.EmergencyRefundEnabled {
		attrs["refundDeadline"] = strconv.FormatInt(d.EmergencyRefundDeadline, 10)
	}
	if d.NativeUSDPrice8d != 0 {
		attrs["nativeUsd8d"] = strconv.FormatUint(d.NativeUSDPrice8d, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newTokenEvent(eventType string, t *TokenRegistry) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["symbol"] = t.Symbol
	attrs["decimals"] = strconv.FormatUint(uint64(t.Decimals), 10)
	attrs["active"] = strconv.FormatBool(t.Active)
	attrs["registeredBy"] = hex.EncodeToString(t.RegisteredBy[:])
	if t.USDPrice8d != 0 {
		attrs["usdPrice8d"] = strconv.FormatUint(t.USDPrice8d, 10)
		attrs["updatedAt"] = strconv.FormatInt(t.PricesUpdatedAt, 10)
	}
	if t.DeskInventory != nil {
		attrs["deskInventory"] = t.DeskInventory.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newConsignmentEvent(eventType string, c *Consignment) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeConsignment(c)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["consigner"] = hex.EncodeToString(sanitized.Consigner[:])
	attrs["token"] = sanitized.Token
	attrs["totalAmount"] = sanitized.TotalAmount.String()
	attrs["remainingAmount"] = sanitized.RemainingAmount.String()
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["negotiable"] = strconv.FormatBool(sanitized.Terms.Negotiable)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeOffer(o)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["consignmentId"] = strconv.FormatUint(sanitized.ConsignmentID, 10)
	attrs["beneficiary"] = hex.EncodeToString(sanitized.Beneficiary[:])
	attrs["token"] = sanitized.Token
	attrs["tokenAmount"] = sanitized.TokenAmount.String()
	attrs["discountBps"] = strconv.FormatUint(uint64(sanitized.DiscountBps), 10)
	attrs["currency"] = strconv.FormatUint(uint64(sanitized.Currency), 10)
	attrs["approved"] = strconv.FormatBool(sanitized.Approved)
	attrs["paid"] = strconv.FormatBool(sanitized.Paid)
	attrs["fulfilled"] = strconv.FormatBool(sanitized.Fulfilled)
	attrs["cancelled"] = strconv.FormatBool(sanitized.Cancelled)
	if sanitized.Paid {
		attrs["payer"] = hex.EncodeToString(sanitized.Payer[:])
		attrs["amountPaid"] = sanitized.AmountPaid.String()
		attrs["unlockTime"] = strconv.FormatInt(sanitized.UnlockTime, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
