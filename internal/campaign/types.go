// Package campaign holds fundraising cases and their collected totals.
package campaign

import (
	"errors"
	"time"

	"givingplatform/internal/common/money"
)

// Case is a fundraising target. AmountCollected only ever grows, and only
// the reconciliation engine grows it.
type Case struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	AmountRequired  money.Money `json:"amount_required"`
	AmountCollected money.Money `json:"amount_collected"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// New creates a new case.
func New(id, title string, required money.Money) (*Case, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if title == "" {
		return nil, errors.New("title is required")
	}
	if !required.IsPositive() {
		return nil, errors.New("amount_required must be positive")
	}

	now := time.Now().UTC()
	return &Case{
		ID:              id,
		Title:           title,
		AmountRequired:  required,
		AmountCollected: money.Zero(required.Currency),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Funded reports whether the target has been reached.
func (c *Case) Funded() bool {
	return c.AmountCollected.AmountMinor >= c.AmountRequired.AmountMinor
}
