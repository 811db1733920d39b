package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"givingplatform/internal/common/database"
	"givingplatform/internal/donation"
)

// Matching defaults. The proximity window and tolerance bound the last-resort
// heuristic so it cannot reach far from the event.
const (
	DefaultProximityWindow    = 10 * time.Minute
	DefaultAmountToleranceMin = 1 // minor units, i.e. 0.01 for two-decimal currencies
)

// Matcher locates the single donation an inbound event refers to. It is a
// pure read over current store state: strategies run in fixed priority order
// and the first hit wins.
type Matcher struct {
	store     donation.Store
	window    time.Duration
	tolerance int64
	logger    *slog.Logger
}

// NewMatcher creates a matcher with default heuristic bounds.
func NewMatcher(store donation.Store, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:     store,
		window:    DefaultProximityWindow,
		tolerance: DefaultAmountToleranceMin,
		logger:    logger,
	}
}

// strategy is one rung of the matching cascade.
type strategy struct {
	name string
	fn   func(ctx context.Context, ev *InboundEvent) (*donation.Donation, error)
}

// Match returns the donation the event refers to and the name of the
// strategy that found it, or (nil, "", nil) when no strategy matched.
// An ambiguous heuristic result counts as no match: orphaning is safer than
// misattributing funds.
func (m *Matcher) Match(ctx context.Context, ev *InboundEvent) (*donation.Donation, string, error) {
	strategies := []strategy{
		{"direct_ref", m.byDirectRef},
		{"composite_ref", m.byCompositeRef},
		{"ref_fragment", m.byRefFragment},
		{"metadata", m.byMetadata},
		{"proximity", m.byProximity},
	}

	for _, s := range strategies {
		d, err := s.fn(ctx, ev)
		if err != nil {
			return nil, "", fmt.Errorf("matching via %s: %w", s.name, err)
		}
		if d != nil {
			m.logger.Debug("event matched",
				"strategy", s.name,
				"donation_id", d.ID,
				"provider_ref", ev.ProviderRef,
			)
			return d, s.name, nil
		}
	}

	return nil, "", nil
}

func (m *Matcher) byDirectRef(ctx context.Context, ev *InboundEvent) (*donation.Donation, error) {
	if ev.ProviderRef == "" {
		return nil, nil
	}
	return noneIfMissing(m.store.GetByExternalRef(ctx, ev.ProviderRef))
}

func (m *Matcher) byCompositeRef(ctx context.Context, ev *InboundEvent) (*donation.Donation, error) {
	if ev.ProviderRef == "" {
		return nil, nil
	}
	return noneIfMissing(m.store.GetByCompositeRef(ctx, ev.ProviderRef))
}

func (m *Matcher) byRefFragment(ctx context.Context, ev *InboundEvent) (*donation.Donation, error) {
	if ev.ProviderRef == "" {
		return nil, nil
	}
	return noneIfMissing(m.store.FindByRefFragment(ctx, ev.ProviderRef))
}

func (m *Matcher) byMetadata(ctx context.Context, ev *InboundEvent) (*donation.Donation, error) {
	id := ev.DonationID()
	if id == "" {
		return nil, nil
	}
	return noneIfMissing(m.store.GetByID(ctx, id))
}

// byProximity is the last resort for events whose upstream code path failed
// to persist a clean reference: same amount (within tolerance), created
// within the window around the event time, status still open. More than one
// candidate means ambiguity, which degrades to no match.
func (m *Matcher) byProximity(ctx context.Context, ev *InboundEvent) (*donation.Donation, error) {
	if !ev.Amount.IsPositive() {
		return nil, nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	candidates, err := m.store.ListOpenByAmount(ctx, ev.Amount, m.tolerance, at.Add(-m.window), at.Add(m.window))
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	default:
		m.logger.Warn("ambiguous proximity match, treating as no match",
			"provider_ref", ev.ProviderRef,
			"amount", ev.Amount.AmountMinor,
			"candidates", len(candidates),
		)
		return nil, nil
	}
}

func noneIfMissing(d *donation.Donation, err error) (*donation.Donation, error) {
	if err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}
