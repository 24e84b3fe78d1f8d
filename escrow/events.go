package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/events"
)

// Notification types emitted by the engine, exactly once per successful
// triggering call.
const (
	EventTypeCreated                 = "escrow.created"
	EventTypeDepositorConfirmed      = "escrow.depositor_confirmed"
	EventTypeCounterpartyConfirmed   = "escrow.counterparty_confirmed"
	EventTypeCompleted               = "escrow.completed"
	EventTypeCancelledByDepositor    = "escrow.cancelled_by_depositor"
	EventTypeCancelledByCounterparty = "escrow.cancelled_by_counterparty"
)

// NewCreatedEvent returns the canonical payload for a newly created record.
func NewCreatedEvent(rec *Record) *events.Payload {
	evt := newRecordEvent(EventTypeCreated, rec)
	if rec != nil {
		evt.Attributes["description"] = rec.Description
	}
	return evt
}

// NewDepositorConfirmedEvent returns the payload emitted when the depositor
// confirms.
func NewDepositorConfirmedEvent(rec *Record) *events.Payload {
	return newRecordEvent(EventTypeDepositorConfirmed, rec)
}

// NewCounterpartyConfirmedEvent returns the payload emitted when the
// counterparty confirms.
func NewCounterpartyConfirmedEvent(rec *Record) *events.Payload {
	return newRecordEvent(EventTypeCounterpartyConfirmed, rec)
}

// NewCompletedEvent returns the payload emitted on settlement, carrying the
// payout released to the counterparty and the collected fee.
func NewCompletedEvent(rec *Record, payout, fee *big.Int) *events.Payload {
	evt := newRecordEvent(EventTypeCompleted, rec)
	if payout != nil {
		evt.Attributes["payout"] = payout.String()
	}
	if fee != nil {
		evt.Attributes["fee"] = fee.String()
	}
	return evt
}

// NewCancelledByDepositorEvent returns the payload emitted when the depositor
// cancels; the refunded amount equals the full record amount.
func NewCancelledByDepositorEvent(rec *Record) *events.Payload {
	evt := newRecordEvent(EventTypeCancelledByDepositor, rec)
	if rec != nil && rec.Amount != nil {
		evt.Attributes["refunded"] = rec.Amount.String()
	}
	return evt
}

// NewCancelledByCounterpartyEvent returns the payload emitted when the
// counterparty cancels.
func NewCancelledByCounterpartyEvent(rec *Record) *events.Payload {
	evt := newRecordEvent(EventTypeCancelledByCounterparty, rec)
	if rec != nil && rec.Amount != nil {
		evt.Attributes["refunded"] = rec.Amount.String()
	}
	return evt
}

func newRecordEvent(eventType string, rec *Record) *events.Payload {
	attrs := make(map[string]string)
	evt := &events.Payload{Type: eventType, Attributes: attrs}
	if rec == nil {
		return evt
	}
	attrs["id"] = strconv.FormatUint(rec.ID, 10)
	attrs["depositor"] = hex.EncodeToString(rec.Depositor[:])
	attrs["counterparty"] = hex.EncodeToString(rec.Counterparty[:])
	if rec.Amount != nil {
		attrs["amount"] = rec.Amount.String()
	}
	attrs["status"] = rec.Status.String()
	attrs["createdAt"] = strconv.FormatInt(rec.CreatedAt, 10)
	return evt
}
