package paypal

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"givingplatform/internal/recon"
)

type captureProcessor struct {
	events chan *recon.InboundEvent
}

func newCaptureProcessor() *captureProcessor {
	return &captureProcessor{events: make(chan *recon.InboundEvent, 1)}
}

func (p *captureProcessor) Process(ctx context.Context, ev *recon.InboundEvent) recon.Outcome {
	p.events <- ev
	return recon.Outcome{Status: recon.OutcomeCompleted}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	h := NewWebhookHandler(nil, Config{}, testLogger())

	t.Run("capture completed", func(t *testing.T) {
		ev, ok := h.normalize(&webhookEvent{
			ID:         "WH-1",
			EventType:  "PAYMENT.CAPTURE.COMPLETED",
			CreateTime: "2026-08-01T10:00:00Z",
			Resource: webhookResource{
				ID:       "CAP-1",
				Status:   "COMPLETED",
				CustomID: "don_1",
				Amount:   &resourceAmount{CurrencyCode: "AUD", Value: "50.00"},
			},
		}, nil)
		if !ok {
			t.Fatal("expected normalized event")
		}
		if ev.Kind != recon.EventPaymentSucceeded {
			t.Errorf("expected payment.succeeded, got %s", ev.Kind)
		}
		if ev.ProviderRef != "CAP-1" {
			t.Errorf("expected CAP-1, got %q", ev.ProviderRef)
		}
		if ev.Amount.AmountMinor != 5000 || ev.Amount.Currency != "AUD" {
			t.Errorf("unexpected amount: %+v", ev.Amount)
		}
		if ev.Metadata[recon.MetadataDonationID] != "don_1" {
			t.Errorf("expected custom_id carried as donation id, got %v", ev.Metadata)
		}
		if ev.OccurredAt.IsZero() {
			t.Error("expected create_time parsed")
		}
	})

	t.Run("capture denied", func(t *testing.T) {
		ev, ok := h.normalize(&webhookEvent{
			ID:        "WH-2",
			EventType: "PAYMENT.CAPTURE.DENIED",
			Resource:  webhookResource{ID: "CAP-2"},
		}, nil)
		if !ok || ev.Kind != recon.EventPaymentFailed {
			t.Fatalf("expected payment.failed, got %+v", ev)
		}
	})

	t.Run("subscription activated", func(t *testing.T) {
		ev, ok := h.normalize(&webhookEvent{
			ID:        "WH-3",
			EventType: "BILLING.SUBSCRIPTION.ACTIVATED",
			Resource: webhookResource{
				ID:          "I-SUB1",
				Status:      "ACTIVE",
				BillingInfo: &billingInfo{NextBillingTime: "2026-09-01T00:00:00Z"},
			},
		}, nil)
		if !ok || ev.Kind != recon.EventSubscriptionCreated {
			t.Fatalf("expected subscription.created, got %+v", ev)
		}
		if ev.SubscriptionRef != "I-SUB1" || ev.ProviderStatus != "active" {
			t.Errorf("unexpected subscription fields: %+v", ev)
		}
		if ev.PeriodEnd == nil {
			t.Error("expected next billing time parsed")
		}
	})

	t.Run("subscription cancelled", func(t *testing.T) {
		ev, ok := h.normalize(&webhookEvent{
			ID:        "WH-4",
			EventType: "BILLING.SUBSCRIPTION.CANCELLED",
			Resource:  webhookResource{ID: "I-SUB1", Status: "CANCELLED"},
		}, nil)
		if !ok || ev.Kind != recon.EventSubscriptionCanceled {
			t.Fatalf("expected subscription.cancelled, got %+v", ev)
		}
		if ev.ProviderStatus != "cancelled" {
			t.Errorf("expected lowercase status, got %q", ev.ProviderStatus)
		}
	})

	t.Run("sale completed on billing agreement", func(t *testing.T) {
		ev, ok := h.normalize(&webhookEvent{
			ID:        "WH-5",
			EventType: "PAYMENT.SALE.COMPLETED",
			Resource: webhookResource{
				ID:                 "SALE-1",
				BillingAgreementID: "I-SUB1",
				Amount:             &resourceAmount{Currency: "AUD", Total: "25.00"},
			},
		}, nil)
		if !ok || ev.Kind != recon.EventInvoicePaid {
			t.Fatalf("expected invoice.paid, got %+v", ev)
		}
		if ev.SubscriptionRef != "I-SUB1" {
			t.Errorf("expected billing agreement as subscription ref, got %q", ev.SubscriptionRef)
		}
		if ev.Amount.AmountMinor != 2500 {
			t.Errorf("expected legacy currency/total parsed, got %+v", ev.Amount)
		}
	})

	t.Run("unhandled event type ignored", func(t *testing.T) {
		if _, ok := h.normalize(&webhookEvent{EventType: "CUSTOMER.DISPUTE.CREATED"}, nil); ok {
			t.Error("expected unhandled type to be skipped")
		}
	})
}

func TestServeHTTP(t *testing.T) {
	body := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","amount":{"currency_code":"AUD","value":"50.00"}}}`

	t.Run("unsigned accepted when secret unset", func(t *testing.T) {
		p := newCaptureProcessor()
		h := NewWebhookHandler(p, Config{}, testLogger())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		select {
		case ev := <-p.events:
			if ev.ProviderRef != "CAP-1" {
				t.Errorf("expected CAP-1, got %q", ev.ProviderRef)
			}
		case <-time.After(time.Second):
			t.Fatal("event never processed")
		}
	})

	t.Run("signed request verified", func(t *testing.T) {
		p := newCaptureProcessor()
		h := NewWebhookHandler(p, Config{WebhookSecret: "whsec_test"}, testLogger())

		now := time.Now().UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(body))
		req.Header.Set(HeaderTransmissionTime, now)
		req.Header.Set(HeaderTransmissionSig, sign("whsec_test", now, []byte(body)))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		p := newCaptureProcessor()
		h := NewWebhookHandler(p, Config{WebhookSecret: "whsec_test"}, testLogger())

		now := time.Now().UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(body))
		req.Header.Set(HeaderTransmissionTime, now)
		req.Header.Set(HeaderTransmissionSig, "deadbeef")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		select {
		case <-p.events:
			t.Fatal("rejected event must not be processed")
		default:
		}
	})

	t.Run("malformed payload acked", func(t *testing.T) {
		p := newCaptureProcessor()
		h := NewWebhookHandler(p, Config{}, testLogger())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader("not json")))

		if rec.Code != http.StatusOK {
			t.Fatalf("malformed payload must be acked, got %d", rec.Code)
		}
	})
}
