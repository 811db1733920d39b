// Package paypal receives PayPal webhook notifications and normalizes them
// into reconciliation events.
package paypal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"givingplatform/internal/common/money"
	"givingplatform/internal/recon"
)

// Config holds PayPal webhook configuration.
type Config struct {
	// WebhookSecret verifies transmission signatures. Empty disables
	// verification; acceptable in development only.
	WebhookSecret string `envconfig:"PAYPAL_WEBHOOK_SECRET"`
}

// Processor handles normalized inbound events.
type Processor interface {
	Process(ctx context.Context, ev *recon.InboundEvent) recon.Outcome
}

const maxBodyBytes = 1 << 20

// webhookEvent is the PayPal webhook envelope.
type webhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   webhookResource `json:"resource"`
}

// webhookResource covers the fields shared across capture, sale, and
// subscription resources.
type webhookResource struct {
	ID                 string          `json:"id"`
	Status             string          `json:"status"`
	CustomID           string          `json:"custom_id"`
	InvoiceID          string          `json:"invoice_id"`
	BillingAgreementID string          `json:"billing_agreement_id"`
	Amount             *resourceAmount `json:"amount"`
	BillingInfo        *billingInfo    `json:"billing_info"`
	CreateTime         string          `json:"create_time"`
}

type resourceAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
	// Older sale resources use "currency"/"total" naming
	Currency string `json:"currency"`
	Total    string `json:"total"`
}

type billingInfo struct {
	NextBillingTime string `json:"next_billing_time"`
}

// WebhookHandler handles PayPal webhook callbacks.
type WebhookHandler struct {
	engine         Processor
	secret         string
	processTimeout time.Duration
	logger         *slog.Logger
}

// NewWebhookHandler creates a PayPal webhook handler.
func NewWebhookHandler(engine Processor, cfg Config, logger *slog.Logger) *WebhookHandler {
	if cfg.WebhookSecret == "" {
		logger.Warn("paypal webhook secret not configured, accepting unsigned payloads")
	}

	return &WebhookHandler{
		engine:         engine,
		secret:         cfg.WebhookSecret,
		processTimeout: 30 * time.Second,
		logger:         logger,
	}
}

// ServeHTTP handles incoming PayPal webhook requests.
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

	if h.secret != "" {
		err := verifySignature(h.secret,
			r.Header.Get(HeaderTransmissionSig),
			r.Header.Get(HeaderTransmissionTime),
			body,
		)
		if err != nil {
			h.logger.Warn("paypal signature verification failed", "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		h.ack(w)
		return
	}

	h.logger.Info("received paypal webhook",
		"event_id", event.ID,
		"type", event.EventType,
	)

	ev, ok := h.normalize(&event, body)
	if !ok {
		h.ack(w)
		return
	}

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

// normalize maps a PayPal event onto the internal tagged event.
func (h *WebhookHandler) normalize(event *webhookEvent, body []byte) (*recon.InboundEvent, bool) {
	ev := &recon.InboundEvent{
		ID:         event.ID,
		Provider:   "paypal",
		Raw:        body,
		OccurredAt: parseTime(event.CreateTime),
	}

	res := event.Resource
	ev.ProviderRef = res.ID
	ev.ProviderStatus = res.Status
	ev.Amount = parseAmount(res.Amount)
	if res.CustomID != "" {
		ev.Metadata = map[string]string{recon.MetadataDonationID: res.CustomID}
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.Kind = recon.EventPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		ev.Kind = recon.EventPaymentFailed

	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED":
		ev.Kind = recon.EventSubscriptionCreated
		ev.SubscriptionRef = res.ID
		ev.ProviderStatus = normalizeSubscriptionStatus(res.Status)
		ev.PeriodEnd = nextBilling(res.BillingInfo)
	case "BILLING.SUBSCRIPTION.UPDATED":
		ev.Kind = recon.EventSubscriptionUpdated
		ev.SubscriptionRef = res.ID
		ev.ProviderStatus = normalizeSubscriptionStatus(res.Status)
		ev.PeriodEnd = nextBilling(res.BillingInfo)
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED", "BILLING.SUBSCRIPTION.SUSPENDED":
		ev.Kind = recon.EventSubscriptionCanceled
		ev.SubscriptionRef = res.ID
		ev.ProviderStatus = normalizeSubscriptionStatus(res.Status)

	case "PAYMENT.SALE.COMPLETED":
		// Recurring charge on a billing agreement.
		ev.Kind = recon.EventInvoicePaid
		ev.SubscriptionRef = res.BillingAgreementID
	case "PAYMENT.SALE.DENIED":
		ev.Kind = recon.EventInvoiceFailed
		ev.SubscriptionRef = res.BillingAgreementID
		ev.ProviderStatus = "past_due"

	default:
		h.logger.Debug("ignoring paypal event type", "type", event.EventType)
		return nil, false
	}

	return ev, true
}

func parseAmount(a *resourceAmount) money.Money {
	if a == nil {
		return money.Money{}
	}

	code := a.CurrencyCode
	value := a.Value
	if code == "" {
		code = a.Currency
		value = a.Total
	}
	if code == "" || value == "" {
		return money.Money{}
	}

	m, err := money.ParseMajor(value, money.Normalize(code))
	if err != nil {
		return money.Money{}
	}
	return m
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nextBilling(b *billingInfo) *time.Time {
	if b == nil || b.NextBillingTime == "" {
		return nil
	}
	t := parseTime(b.NextBillingTime)
	if t.IsZero() {
		return nil
	}
	return &t
}

// normalizeSubscriptionStatus lowercases PayPal's shouting status words so
// the donation status derivation sees one vocabulary across providers.
func normalizeSubscriptionStatus(s string) string {
	switch s {
	case "ACTIVE":
		return "active"
	case "APPROVAL_PENDING", "APPROVED":
		return "pending"
	case "SUSPENDED":
		return "past_due"
	case "CANCELLED":
		return "cancelled"
	case "EXPIRED":
		return "expired"
	default:
		return s
	}
}
