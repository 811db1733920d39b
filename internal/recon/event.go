// Package recon matches inbound provider notifications to donation records
// and drives the donation state machine.
package recon

import (
	"encoding/json"
	"errors"
	"time"

	"givingplatform/internal/common/money"
)

// EventKind is the normalized provider event type. Webhook handlers map each
// provider's own vocabulary onto these before anything else inspects the
// payload.
type EventKind string

const (
	EventPaymentSucceeded     EventKind = "payment.succeeded"
	EventPaymentFailed        EventKind = "payment.failed"
	EventSubscriptionCreated  EventKind = "subscription.created"
	EventSubscriptionUpdated  EventKind = "subscription.updated"
	EventSubscriptionCanceled EventKind = "subscription.cancelled"
	EventInvoicePaid          EventKind = "invoice.paid"
	EventInvoiceFailed        EventKind = "invoice.payment_failed"
)

// InboundEvent is one normalized provider notification. It is transient:
// only unmatched events are persisted, as orphans.
type InboundEvent struct {
	// ID is the provider's event id, used for logging and diagnostics.
	ID       string
	Provider string
	Kind     EventKind

	// ProviderRef is the provider's id for the underlying payment object
	// (payment intent, capture, invoice). SubscriptionRef is set for
	// subscription and invoice events.
	ProviderRef     string
	SubscriptionRef string

	Amount money.Money

	// ProviderStatus is the provider's own state word (active, trialing,
	// cancelled, ...) for subscription events.
	ProviderStatus string

	// PeriodEnd is the provider-reported end of the current billing period.
	PeriodEnd *time.Time

	// Metadata may carry a back-reference to the donation id under
	// MetadataDonationID.
	Metadata map[string]string

	OccurredAt time.Time

	// Raw is the original payload, kept for orphan diagnostics.
	Raw json.RawMessage
}

// MetadataDonationID is the metadata key carrying the donation back-reference.
const MetadataDonationID = "donation_id"

// DonationID returns the metadata back-reference, if present.
func (e *InboundEvent) DonationID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetadataDonationID]
}

// Validate checks the fields every event must carry. Malformed events are
// dropped (logged, acknowledged) rather than retried by the provider.
func (e *InboundEvent) Validate() error {
	if e.Kind == "" {
		return errors.New("missing event kind")
	}
	if e.Provider == "" {
		return errors.New("missing provider")
	}

	switch e.Kind {
	case EventPaymentSucceeded, EventPaymentFailed:
		if e.ProviderRef == "" && e.DonationID() == "" {
			return errors.New("payment event carries no provider ref or donation id")
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCanceled:
		if e.SubscriptionRef == "" && e.DonationID() == "" {
			return errors.New("subscription event carries no subscription ref or donation id")
		}
	case EventInvoicePaid, EventInvoiceFailed:
		if e.SubscriptionRef == "" {
			return errors.New("invoice event carries no subscription ref")
		}
	default:
		return errors.New("unknown event kind")
	}

	return nil
}
