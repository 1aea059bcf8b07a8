package reconcile

import (
	"log/slog"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"otcdesk/core/events"
	coretypes "otcdesk/core/types"
	"otcdesk/native/otc"
)

// Mirror keeps the relational mirror in sync with the settlement core. It is
// wired as an event subscriber, so it only ever sees events from committed
// transactions.
type Mirror struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewMirror builds a mirror writing into db.
func NewMirror(db *gorm.DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

var _ events.Emitter = (*Mirror)(nil)

// Emit applies one committed event to the mirror. Persistence failures are
// logged rather than propagated: the ledger remains the source of truth and
// the nightly reconciliation run surfaces any resulting drift.
func (m *Mirror) Emit(evt events.Event) {
	if m == nil || m.db == nil || evt == nil {
		return
	}
	carrier, ok := evt.(interface{ Event() *coretypes.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	var err error
	switch payload.Type {
	case otc.EventTypeConsignmentCreated, otc.EventTypeConsignmentStatus, otc.EventTypeConsignmentBalance:
		err = m.applyConsignment(payload.Attributes)
	case otc.EventTypeOfferCreated, otc.EventTypeOfferApproved, otc.EventTypeOfferCancelled,
		otc.EventTypeOfferPaid, otc.EventTypeOfferClaimed, otc.EventTypeOfferRefunded:
		err = m.applyOffer(payload.Type, payload.Attributes)
	}
	if err != nil {
		m.logger.Error("mirror update failed", "event", payload.Type, "error", err)
	}
}

func (m *Mirror) applyConsignment(attrs map[string]string) error {
	id, err := strconv.ParseUint(attrs["id"], 10, 64)
	if err != nil {
		return err
	}
	createdAt, _ := strconv.ParseInt(attrs["createdAt"], 10, 64)
	record := ConsignmentRecord{
		ID:              id,
		Consigner:       strings.ToLower(attrs["consigner"]),
		Token:           attrs["token"],
		TotalAmount:     attrs["totalAmount"],
		RemainingAmount: attrs["remainingAmount"],
		Status:          consignmentStatusName(attrs["status"]),
		LedgerCreatedAt: createdAt,
		Available:       true,
	}
	return m.db.Save(&record).Error
}

func (m *Mirror) applyOffer(eventType string, attrs map[string]string) error {
	id, err := strconv.ParseUint(attrs["id"], 10, 64)
	if err != nil {
		return err
	}
	consignmentID, _ := strconv.ParseUint(attrs["consignmentId"], 10, 64)
	unlockTime, _ := strconv.ParseInt(attrs["unlockTime"], 10, 64)
	discount, _ := strconv.ParseUint(attrs["discountBps"], 10, 16)
	record := OfferRecord{
		ID:            id,
		ConsignmentID: consignmentID,
		Beneficiary:   strings.ToLower(attrs["beneficiary"]),
		Token:         attrs["token"],
		TokenAmount:   attrs["tokenAmount"],
		DiscountBps:   uint16(discount),
		Currency:      currencyName(attrs["currency"]),
		Status:        offerStatusFromEvent(eventType, attrs),
		Payer:         strings.ToLower(attrs["payer"]),
		AmountPaid:    attrs["amountPaid"],
		UnlockTime:    unlockTime,
		Available:     true,
	}
	return m.db.Save(&record).Error
}

// MarkUnavailable invalidates one mirror row without waiting for the next
// reconciliation poll. Kind is "consignment" or "offer".
func (m *Mirror) MarkUnavailable(kind string, id uint64) error {
	if m == nil || m.db == nil {
		return nil
	}
	var model interface{}
	switch kind {
	case "consignment":
		model = &ConsignmentRecord{}
	case "offer":
		model = &OfferRecord{}
	default:
		return nil
	}
	return m.db.Model(model).Where("id = ?", id).Update("available", false).Error
}

func consignmentStatusName(raw string) string {
	switch raw {
	case strconv.Itoa(int(otc.ConsignmentActive)):
		return StatusActive
	case strconv.Itoa(int(otc.ConsignmentPaused)):
		return StatusPaused
	case strconv.Itoa(int(otc.ConsignmentWithdrawn)):
		return StatusWithdrawn
	}
	return raw
}

func currencyName(raw string) string {
	if raw == strconv.Itoa(int(otc.CurrencyNative)) {
		return "native"
	}
	return "stable"
}

func offerStatusFromEvent(eventType string, attrs map[string]string) string {
	switch eventType {
	case otc.EventTypeOfferRefunded:
		return StatusRefunded
	case otc.EventTypeOfferClaimed:
		return StatusFulfilled
	case otc.EventTypeOfferCancelled:
		return StatusCancelled
	case otc.EventTypeOfferPaid:
		return StatusPaid
	}
	if attrs["paid"] == "true" {
		return StatusPaid
	}
	if attrs["approved"] == "true" {
		return StatusApproved
	}
	return StatusOpen
}

// OfferStatus collapses ledger flag bits into the mirror's lifecycle string.
func OfferStatus(offer *otc.Offer) string {
	switch {
	case offer == nil:
		return StatusOpen
	case offer.Fulfilled:
		return StatusFulfilled
	case offer.Paid && offer.Cancelled:
		return StatusRefunded
	case offer.Cancelled:
		return StatusCancelled
	case offer.Paid:
		return StatusPaid
	case offer.Approved:
		return StatusApproved
	}
	return StatusOpen
}

// ConsignmentStatus maps a ledger status code to the mirror's string form.
func ConsignmentStatus(status otc.ConsignmentStatus) string {
	switch status {
	case otc.ConsignmentActive:
		return StatusActive
	case otc.ConsignmentPaused:
		return StatusPaused
	case otc.ConsignmentWithdrawn:
		return StatusWithdrawn
	}
	return StatusOpen
}
