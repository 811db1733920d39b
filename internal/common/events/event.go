// Package events defines the envelope and payloads published on NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"givingplatform/internal/common/money"
)

// Envelope wraps all published events with common metadata
type Envelope struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope
func NewEnvelope(eventType, aggregateType, aggregateID string, data interface{}) (*Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Envelope) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes envelopes to a message broker
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// Event types
const (
	// Donation lifecycle
	EventDonationCreated   = "donation.created"
	EventDonationCompleted = "donation.completed"
	EventDonationFailed    = "donation.failed"

	// Subscriptions
	EventSubscriptionSynced    = "donation.subscription.synced"
	EventRecurringChargePaid   = "donation.subscription.charge_paid"
	EventRecurringChargeFailed = "donation.subscription.charge_failed"

	// Receipts
	EventReceiptRequested = "receipts.requested"

	// Reconciliation diagnostics
	EventOrphanRecorded = "recon.orphan.recorded"

	// Cases
	EventCaseFundsAdded = "case.funds_added"
)

// DonationCompletedData is the data for donation.completed events
type DonationCompletedData struct {
	DonationID  string      `json:"donation_id"`
	Amount      money.Money `json:"amount"`
	CaseID      string      `json:"case_id,omitempty"`
	Provider    string      `json:"provider"`
	ProviderRef string      `json:"provider_ref"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ReceiptRequestedData is the data for receipts.requested events
type ReceiptRequestedData struct {
	DonationID  string      `json:"donation_id"`
	DonorEmail  string      `json:"donor_email,omitempty"`
	DonorName   string      `json:"donor_name,omitempty"`
	Amount      money.Money `json:"amount"`
	Recurring   bool        `json:"recurring"`
	ProviderRef string      `json:"provider_ref"`
	RequestedAt time.Time   `json:"requested_at"`
}

// OrphanRecordedData is the data for recon.orphan.recorded events
type OrphanRecordedData struct {
	OrphanID    string      `json:"orphan_id"`
	Provider    string      `json:"provider"`
	EventKind   string      `json:"event_kind"`
	ProviderRef string      `json:"provider_ref,omitempty"`
	Amount      money.Money `json:"amount"`
	Reason      string      `json:"reason"`
}

// CaseFundsAddedData is the data for case.funds_added events
type CaseFundsAddedData struct {
	CaseID     string      `json:"case_id"`
	DonationID string      `json:"donation_id"`
	Amount     money.Money `json:"amount"`
}
