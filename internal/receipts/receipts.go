// Package receipts triggers tax receipt issuance. The actual rendering and
// delivery live in an external mailer; this package only publishes the
// request, once, without blocking event processing on the outcome.
package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"givingplatform/internal/common/events"
	"givingplatform/internal/common/money"
	"givingplatform/internal/donation"
)

// Trigger publishes receipt requests over the event bus.
type Trigger struct {
	publisher events.Publisher
	logger    *slog.Logger
}

// NewTrigger creates a receipt trigger.
func NewTrigger(publisher events.Publisher, logger *slog.Logger) *Trigger {
	return &Trigger{
		publisher: publisher,
		logger:    logger,
	}
}

// DonationCompleted requests a receipt for a one-off donation's first (and
// only) completion.
func (t *Trigger) DonationCompleted(ctx context.Context, d *donation.Donation) error {
	return t.request(ctx, d, false, d.Amount)
}

// RecurringChargePaid requests a receipt for one recurring charge cycle.
func (t *Trigger) RecurringChargePaid(ctx context.Context, d *donation.Donation, amount money.Money) error {
	return t.request(ctx, d, true, amount)
}

func (t *Trigger) request(ctx context.Context, d *donation.Donation, recurring bool, amount money.Money) error {
	if d.DonorEmail == "" {
		// Nothing to deliver to; the admin surface can re-trigger once the
		// donor fills in contact details.
		t.logger.Info("skipping receipt, no donor email",
			"donation_id", d.ID,
		)
		return nil
	}

	env, err := events.NewEnvelope(events.EventReceiptRequested, "donation", d.ID, events.ReceiptRequestedData{
		DonationID:  d.ID,
		DonorEmail:  d.DonorEmail,
		DonorName:   d.DonorName,
		Amount:      amount,
		Recurring:   recurring,
		ProviderRef: d.ExternalPaymentRef,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("building receipt request: %w", err)
	}

	if err := t.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publishing receipt request: %w", err)
	}

	t.logger.Info("receipt requested",
		"donation_id", d.ID,
		"recurring", recurring,
		"amount", amount.AmountMinor,
	)

	return nil
}
