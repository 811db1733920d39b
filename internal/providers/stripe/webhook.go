// Package stripe receives Stripe webhook notifications and normalizes them
// into reconciliation events.
package stripe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"givingplatform/internal/common/money"
	"givingplatform/internal/recon"
)

// Config holds Stripe webhook configuration.
type Config struct {
	// WebhookSecret verifies payload signatures. Empty disables verification
	// and trusts payloads outright; acceptable in development only.
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// Processor handles normalized inbound events.
type Processor interface {
	Process(ctx context.Context, ev *recon.InboundEvent) recon.Outcome
}

const maxBodyBytes = 1 << 20 // Stripe sends small payloads; cap reads at 1MB

// WebhookHandler handles Stripe webhook callbacks.
type WebhookHandler struct {
	engine         Processor
	secret         string
	processTimeout time.Duration
	logger         *slog.Logger
}

// NewWebhookHandler creates a Stripe webhook handler.
func NewWebhookHandler(engine Processor, cfg Config, logger *slog.Logger) *WebhookHandler {
	if cfg.WebhookSecret == "" {
		logger.Warn("stripe webhook secret not configured, accepting unsigned payloads")
	}

	return &WebhookHandler{
		engine:         engine,
		secret:         cfg.WebhookSecret,
		processTimeout: 30 * time.Second,
		logger:         logger,
	}
}

// ServeHTTP handles incoming Stripe webhook requests. Signature failures are
// the only errors propagated back to Stripe; everything past verification is
// acknowledged so Stripe does not amplify retries for events we cannot use.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var event stripego.Event
	if h.secret != "" {
		event, err = webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.secret)
		if err != nil {
			h.logger.Warn("stripe signature verification failed", "error", err)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
	} else {
		if err := json.Unmarshal(body, &event); err != nil {
			h.logger.Error("failed to parse webhook payload", "error", err)
			h.ack(w)
			return
		}
	}

	h.logger.Info("received stripe webhook",
		"event_id", event.ID,
		"type", event.Type,
	)

	ev, ok := h.normalize(&event, body)
	if !ok {
		// Unhandled event types are acknowledged and forgotten.
		h.ack(w)
		return
	}

	// Events are fire-and-forget tasks; Stripe owns retry delivery, the
	// engine owns idempotency.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
		defer cancel()
		h.engine.Process(ctx, ev)
	}()

	h.ack(w)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

// normalize maps a Stripe event onto the internal tagged event. Returns
// false for event types the reconciliation engine does not consume.
func (h *WebhookHandler) normalize(event *stripego.Event, body []byte) (*recon.InboundEvent, bool) {
	ev := &recon.InboundEvent{
		ID:         event.ID,
		Provider:   "stripe",
		Raw:        body,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.logger.Error("failed to parse payment intent", "event_id", event.ID, "error", err)
			return nil, false
		}
		if string(event.Type) == "payment_intent.succeeded" {
			ev.Kind = recon.EventPaymentSucceeded
		} else {
			ev.Kind = recon.EventPaymentFailed
		}
		ev.ProviderRef = pi.ID
		ev.Amount = money.New(pi.Amount, money.Normalize(string(pi.Currency)))
		ev.Metadata = pi.Metadata
		ev.ProviderStatus = string(pi.Status)
		if pi.Created > 0 {
			ev.OccurredAt = time.Unix(pi.Created, 0).UTC()
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("failed to parse subscription", "event_id", event.ID, "error", err)
			return nil, false
		}
		switch string(event.Type) {
		case "customer.subscription.created":
			ev.Kind = recon.EventSubscriptionCreated
		case "customer.subscription.updated":
			ev.Kind = recon.EventSubscriptionUpdated
		default:
			ev.Kind = recon.EventSubscriptionCanceled
		}
		ev.ProviderRef = sub.ID
		ev.SubscriptionRef = sub.ID
		ev.Metadata = sub.Metadata
		ev.ProviderStatus = string(sub.Status)
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			ev.PeriodEnd = &t
		}

	case "invoice.paid", "invoice.payment_failed":
		var inv stripego.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			h.logger.Error("failed to parse invoice", "event_id", event.ID, "error", err)
			return nil, false
		}
		if string(event.Type) == "invoice.paid" {
			ev.Kind = recon.EventInvoicePaid
			ev.Amount = money.New(inv.AmountPaid, money.Normalize(string(inv.Currency)))
		} else {
			ev.Kind = recon.EventInvoiceFailed
			ev.Amount = money.New(inv.AmountDue, money.Normalize(string(inv.Currency)))
			ev.ProviderStatus = "past_due"
		}
		ev.ProviderRef = inv.ID
		if inv.Subscription != nil {
			ev.SubscriptionRef = inv.Subscription.ID
		}
		ev.Metadata = inv.Metadata
		if inv.PeriodEnd > 0 {
			t := time.Unix(inv.PeriodEnd, 0).UTC()
			ev.PeriodEnd = &t
		}

	default:
		h.logger.Debug("ignoring stripe event type", "type", event.Type)
		return nil, false
	}

	return ev, true
}
