package donation

import (
	"testing"

	"givingplatform/internal/common/money"
)

func TestNew(t *testing.T) {
	t.Run("valid donation starts pending", func(t *testing.T) {
		d, err := New("don_1", money.New(5000, money.AUD), KindGeneral, FrequencyOneOff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Status != StatusPending {
			t.Errorf("expected pending, got %s", d.Status)
		}
		if d.CreatedAt.IsZero() || d.UpdatedAt.IsZero() {
			t.Error("timestamps not set")
		}
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		if _, err := New("don_1", money.New(0, money.AUD), KindGeneral, FrequencyOneOff); err == nil {
			t.Error("expected error for zero amount")
		}
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		if _, err := New("don_1", money.New(-100, money.AUD), KindGeneral, FrequencyOneOff); err == nil {
			t.Error("expected error for negative amount")
		}
	})

	t.Run("rejects unsupported currency", func(t *testing.T) {
		if _, err := New("don_1", money.New(5000, money.Currency("XXX")), KindGeneral, FrequencyOneOff); err == nil {
			t.Error("expected error for unsupported currency")
		}
	})

	t.Run("rejects invalid frequency", func(t *testing.T) {
		if _, err := New("don_1", money.New(5000, money.AUD), KindGeneral, Frequency("fortnightly")); err == nil {
			t.Error("expected error for invalid frequency")
		}
	})
}

func TestCompositeRef(t *testing.T) {
	if got := CompositeRef("pi_123", "secret_abc"); got != "pi_123|secret_abc" {
		t.Errorf("CompositeRef = %q", got)
	}
	if got := CompositeRef("pi_123", ""); got != "pi_123" {
		t.Errorf("CompositeRef without secret = %q", got)
	}
}

func TestRefMatches(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		ref    string
		want   bool
	}{
		{"exact", "pi_123", "pi_123", true},
		{"composite prefix", "pi_123|secret_abc", "pi_123", true},
		{"fragment", "batch/pi_123/retry", "pi_123", true},
		{"no overlap", "pi_999", "pi_123", false},
		{"empty stored", "", "pi_123", false},
		{"empty ref", "pi_123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Donation{ExternalPaymentRef: tt.stored}
			if got := d.RefMatches(tt.ref); got != tt.want {
				t.Errorf("RefMatches(%q) on %q = %v, want %v", tt.ref, tt.stored, got, tt.want)
			}
		})
	}
}

func TestIsRecurring(t *testing.T) {
	for freq, want := range map[Frequency]bool{
		FrequencyOneOff:  false,
		FrequencyWeekly:  true,
		FrequencyMonthly: true,
	} {
		d := &Donation{Frequency: freq}
		if got := d.IsRecurring(); got != want {
			t.Errorf("IsRecurring with %s = %v, want %v", freq, got, want)
		}
	}
}

func TestDeriveStatusFromProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     Status
		ok       bool
	}{
		{"active", StatusActiveSubscription, true},
		{"trialing", StatusActiveSubscription, true},
		{"ACTIVE", StatusActiveSubscription, true},
		{"cancelled", StatusSubscriptionCancelled, true},
		{"canceled", StatusSubscriptionCancelled, true},
		{"expired", StatusSubscriptionCancelled, true},
		{"past_due", "", false},
		{"incomplete", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := DeriveStatusFromProvider(tt.provider)
		if ok != tt.ok || got != tt.want {
			t.Errorf("DeriveStatusFromProvider(%q) = (%q, %v), want (%q, %v)", tt.provider, got, ok, tt.want, tt.ok)
		}
	}
}
