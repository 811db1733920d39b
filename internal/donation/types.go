// Package donation holds the donation record and its authoritative store.
package donation

import (
	"errors"
	"strings"
	"time"

	"givingplatform/internal/common/money"
)

// Status represents the payment lifecycle status of a donation.
type Status string

const (
	StatusPending               Status = "pending"
	StatusProcessing            Status = "processing"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusActiveSubscription    Status = "active-subscription"
	StatusSubscriptionCancelled Status = "subscription-cancelled"
)

// Kind is the donation purpose.
type Kind string

const (
	KindGeneral Kind = "general"
	KindZakat   Kind = "zakat"
	KindSadaqah Kind = "sadaqah"
)

// Frequency is how often the donation recurs.
type Frequency string

const (
	FrequencyOneOff  Frequency = "one-off"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RefDelimiter joins the provider payment id and its secret into a
// composite external reference, widening later matching odds.
const RefDelimiter = "|"

// Donation represents one pledged contribution.
type Donation struct {
	ID        string      `json:"id"`
	Amount    money.Money `json:"amount"`
	Kind      Kind        `json:"kind"`
	Frequency Frequency   `json:"frequency"`
	Status    Status      `json:"status"`

	// ExternalPaymentRef correlates to the provider's transaction. It may be
	// a composite "<id>|<secret>" stored at creation time.
	ExternalPaymentRef string `json:"external_payment_ref,omitempty"`

	// Recurring donations only
	SubscriptionRef    string     `json:"subscription_ref,omitempty"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	NextChargeAt       *time.Time `json:"next_charge_at,omitempty"`
	LastInvoiceRef     string     `json:"last_invoice_ref,omitempty"`

	// CaseID links to a fundraising case; DestinationLabel is the free-text
	// alternative. In practice only one of the two is set.
	CaseID           string `json:"case_id,omitempty"`
	DestinationLabel string `json:"destination_label,omitempty"`

	DonorName  string `json:"donor_name,omitempty"`
	DonorEmail string `json:"donor_email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompositeRef builds the stored external reference from a provider payment
// id and an optional secret.
func CompositeRef(providerRef, secret string) string {
	if secret == "" {
		return providerRef
	}
	return providerRef + RefDelimiter + secret
}

// New creates a new donation record.
func New(id string, amount money.Money, kind Kind, frequency Frequency) (*Donation, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if _, ok := money.GetCurrencyInfo(amount.Currency); !ok {
		return nil, errors.New("unsupported currency")
	}

	switch frequency {
	case FrequencyOneOff, FrequencyWeekly, FrequencyMonthly:
	default:
		return nil, errors.New("invalid frequency")
	}

	now := time.Now().UTC()
	return &Donation{
		ID:        id,
		Amount:    amount,
		Kind:      kind,
		Frequency: frequency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsRecurring reports whether the donation recurs.
func (d *Donation) IsRecurring() bool {
	return d.Frequency != FrequencyOneOff
}

// IsCompleted reports whether the donation has reached the terminal
// completed status.
func (d *Donation) IsCompleted() bool {
	return d.Status == StatusCompleted
}

// RefMatches reports whether ref matches this donation's stored external
// reference directly, as the id part of a composite, or as a fragment.
func (d *Donation) RefMatches(ref string) bool {
	if d.ExternalPaymentRef == "" || ref == "" {
		return false
	}
	if d.ExternalPaymentRef == ref {
		return true
	}
	if strings.HasPrefix(d.ExternalPaymentRef, ref+RefDelimiter) {
		return true
	}
	return strings.Contains(d.ExternalPaymentRef, ref)
}

// DeriveStatusFromProvider maps a provider subscription state to a donation
// status. The bool is false when the provider state implies no change.
func DeriveStatusFromProvider(providerStatus string) (Status, bool) {
	switch strings.ToLower(providerStatus) {
	case "active", "trialing":
		return StatusActiveSubscription, true
	case "cancelled", "canceled", "expired":
		return StatusSubscriptionCancelled, true
	default:
		return "", false
	}
}
