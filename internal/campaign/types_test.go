package campaign

import (
	"testing"

	"givingplatform/internal/common/money"
)

func TestNew(t *testing.T) {
	c, err := New("case_1", "Water well", money.New(500000, money.AUD))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Active {
		t.Error("new case must start active")
	}
	if !c.AmountCollected.IsZero() {
		t.Errorf("new case must start with nothing collected, got %d", c.AmountCollected.AmountMinor)
	}

	if _, err := New("", "Water well", money.New(500000, money.AUD)); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := New("case_1", "", money.New(500000, money.AUD)); err == nil {
		t.Error("expected error for missing title")
	}
	if _, err := New("case_1", "Water well", money.New(0, money.AUD)); err == nil {
		t.Error("expected error for zero target")
	}
}

func TestFunded(t *testing.T) {
	c, err := New("case_1", "Water well", money.New(500000, money.AUD))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Funded() {
		t.Error("empty case must not be funded")
	}

	c.AmountCollected = money.New(500000, money.AUD)
	if !c.Funded() {
		t.Error("case at target must be funded")
	}

	c.AmountCollected = money.New(600000, money.AUD)
	if !c.Funded() {
		t.Error("case over target must be funded")
	}
}
