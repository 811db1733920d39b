package recon

import (
	"context"
	"log/slog"
	"time"

	"givingplatform/internal/common/database"
	"givingplatform/internal/common/events"
	"givingplatform/internal/common/money"
	"givingplatform/internal/donation"
)

// CaseAccumulator adds funds to a fundraising case. A missing case is
// reported as database.ErrNotFound; the engine logs it and continues.
type CaseAccumulator interface {
	AddToCollected(ctx context.Context, caseID string, amount money.Money) error
}

// ReceiptNotifier triggers tax receipt issuance. Notification is best-effort:
// the engine never fails an event on a notifier error.
type ReceiptNotifier interface {
	DonationCompleted(ctx context.Context, d *donation.Donation) error
	RecurringChargePaid(ctx context.Context, d *donation.Donation, amount money.Money) error
}

// OutcomeStatus classifies what processing an event did.
type OutcomeStatus string

const (
	OutcomeCompleted          OutcomeStatus = "completed"
	OutcomeAlreadyCompleted   OutcomeStatus = "already_completed"
	OutcomeFailed             OutcomeStatus = "failed"
	OutcomeAlreadyFailed      OutcomeStatus = "already_failed"
	OutcomeSubscriptionSynced OutcomeStatus = "subscription_synced"
	OutcomeChargeRecorded     OutcomeStatus = "charge_recorded"
	OutcomeChargeDuplicate    OutcomeStatus = "charge_duplicate"
	OutcomeChargeFailed       OutcomeStatus = "charge_failure_recorded"
	OutcomeOrphaned           OutcomeStatus = "orphaned"
	OutcomeDropped            OutcomeStatus = "dropped"
)

// Outcome reports how an event was handled.
type Outcome struct {
	Status     OutcomeStatus
	DonationID string
	MatchedVia string
	Reason     string
}

// Engine interprets inbound provider events and drives donation state.
// Processing is idempotent and order-tolerant: status transitions are guarded
// in the store, side effects fire only when a transition actually occurs, and
// per-donation locks serialize read-then-write sequences.
type Engine struct {
	donations donation.Store
	matcher   *Matcher
	cases     CaseAccumulator
	orphans   OrphanStore
	receipts  ReceiptNotifier
	publisher events.Publisher
	locks     *keyedMutex
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(
	donations donation.Store,
	matcher *Matcher,
	cases CaseAccumulator,
	orphans OrphanStore,
	receipts ReceiptNotifier,
	publisher events.Publisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		donations: donations,
		matcher:   matcher,
		cases:     cases,
		orphans:   orphans,
		receipts:  receipts,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    logger,
	}
}

// Process handles one inbound event. It never returns an error to the
// caller: malformed events are dropped, unmatched events are orphaned, and
// downstream failures are logged per stage. Only the webhook signature check,
// which happens before Process, can reject an event back to the provider.
func (e *Engine) Process(ctx context.Context, ev *InboundEvent) Outcome {
	if err := ev.Validate(); err != nil {
		e.logger.Warn("dropping malformed event",
			"provider", ev.Provider,
			"kind", ev.Kind,
			"event_id", ev.ID,
			"error", err,
		)
		return Outcome{Status: OutcomeDropped, Reason: err.Error()}
	}

	switch ev.Kind {
	case EventPaymentSucceeded:
		return e.handlePaymentSucceeded(ctx, ev)
	case EventPaymentFailed:
		return e.handlePaymentFailed(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return e.handleSubscriptionSync(ctx, ev, false)
	case EventSubscriptionCanceled:
		return e.handleSubscriptionSync(ctx, ev, true)
	case EventInvoicePaid:
		return e.handleInvoicePaid(ctx, ev)
	case EventInvoiceFailed:
		return e.handleInvoiceFailed(ctx, ev)
	default:
		return e.orphan(ctx, ev, "unknown event kind")
	}
}

func (e *Engine) handlePaymentSucceeded(ctx context.Context, ev *InboundEvent) Outcome {
	d, via, err := e.matcher.Match(ctx, ev)
	if err != nil {
		return e.orphan(ctx, ev, "match failed: "+err.Error())
	}
	if d == nil {
		return e.orphan(ctx, ev, "no matching donation")
	}

	unlock := e.locks.Lock(d.ID)
	defer unlock()

	if d.IsCompleted() {
		e.logger.Info("donation already completed, ignoring duplicate",
			"donation_id", d.ID,
			"provider_ref", ev.ProviderRef,
		)
		return Outcome{Status: OutcomeAlreadyCompleted, DonationID: d.ID, MatchedVia: via}
	}

	d, transitioned, err := e.donations.TransitionStatus(ctx, d.ID, donation.StatusCompleted, ev.ProviderRef)
	if err != nil {
		return e.orphan(ctx, ev, "status transition failed: "+err.Error())
	}
	if !transitioned {
		// A concurrent delivery won the race; its side effects already ran.
		return Outcome{Status: OutcomeAlreadyCompleted, DonationID: d.ID, MatchedVia: via}
	}

	e.logger.Info("donation completed",
		"donation_id", d.ID,
		"provider", ev.Provider,
		"provider_ref", ev.ProviderRef,
		"amount", d.Amount.AmountMinor,
		"matched_via", via,
	)

	// Side effects fire exactly once, on the transition that occurred.
	e.accumulate(ctx, d, d.Amount)
	e.notifyReceipt(ctx, d, false, d.Amount)
	e.publishCompleted(ctx, d, ev)

	return Outcome{Status: OutcomeCompleted, DonationID: d.ID, MatchedVia: via}
}

func (e *Engine) handlePaymentFailed(ctx context.Context, ev *InboundEvent) Outcome {
	d, via, err := e.matcher.Match(ctx, ev)
	if err != nil {
		return e.orphan(ctx, ev, "match failed: "+err.Error())
	}
	if d == nil {
		return e.orphan(ctx, ev, "no matching donation")
	}

	unlock := e.locks.Lock(d.ID)
	defer unlock()

	if d.Status == donation.StatusFailed {
		return Outcome{Status: OutcomeAlreadyFailed, DonationID: d.ID, MatchedVia: via}
	}

	d, transitioned, err := e.donations.TransitionStatus(ctx, d.ID, donation.StatusFailed, ev.ProviderRef)
	if err != nil {
		return e.orphan(ctx, ev, "status transition failed: "+err.Error())
	}
	if !transitioned {
		return Outcome{Status: OutcomeAlreadyFailed, DonationID: d.ID, MatchedVia: via}
	}

	e.logger.Info("donation failed",
		"donation_id", d.ID,
		"provider", ev.Provider,
		"provider_ref", ev.ProviderRef,
	)

	if env, err := events.NewEnvelope(events.EventDonationFailed, "donation", d.ID, d); err == nil {
		e.publish(ctx, env)
	}

	return Outcome{Status: OutcomeFailed, DonationID: d.ID, MatchedVia: via}
}

// handleSubscriptionSync applies subscription-created/updated/cancelled
// events. Created and updated are deliberately the same operation, so a
// late-arriving created event after an updated one converges to the same
// state regardless of order.
func (e *Engine) handleSubscriptionSync(ctx context.Context, ev *InboundEvent, forceCancel bool) Outcome {
	d, via, err := e.resolveSubscription(ctx, ev)
	if err != nil {
		return e.orphan(ctx, ev, "subscription lookup failed: "+err.Error())
	}
	if d == nil {
		return e.orphan(ctx, ev, "no donation for subscription")
	}

	unlock := e.locks.Lock(d.ID)
	defer unlock()

	fields := donation.SubscriptionFields{
		SubscriptionRef:    ev.SubscriptionRef,
		SubscriptionStatus: ev.ProviderStatus,
		NextChargeAt:       ev.PeriodEnd,
	}

	if forceCancel {
		fields.SubscriptionStatus = "cancelled"
		fields.ClearNextCharge = true
		status := donation.StatusSubscriptionCancelled
		fields.NewStatus = &status
	} else if status, ok := donation.DeriveStatusFromProvider(ev.ProviderStatus); ok {
		fields.NewStatus = &status
	}

	d, err = e.donations.SetSubscriptionFields(ctx, d.ID, fields)
	if err != nil {
		return e.orphan(ctx, ev, "subscription update failed: "+err.Error())
	}

	e.logger.Info("subscription synced",
		"donation_id", d.ID,
		"subscription_ref", d.SubscriptionRef,
		"subscription_status", d.SubscriptionStatus,
		"status", d.Status,
	)

	if env, err := events.NewEnvelope(events.EventSubscriptionSynced, "donation", d.ID, d); err == nil {
		e.publish(ctx, env)
	}

	return Outcome{Status: OutcomeSubscriptionSynced, DonationID: d.ID, MatchedVia: via}
}

// handleInvoicePaid records a recurring charge. Each invoice is a fresh
// contribution, accumulated once: the store guards on the invoice ref so a
// re-delivered event records nothing.
func (e *Engine) handleInvoicePaid(ctx context.Context, ev *InboundEvent) Outcome {
	d, err := noneIfMissing(e.donations.GetBySubscriptionRef(ctx, ev.SubscriptionRef))
	if err != nil {
		return e.orphan(ctx, ev, "subscription lookup failed: "+err.Error())
	}
	if d == nil {
		return e.orphan(ctx, ev, "no donation for subscription")
	}

	unlock := e.locks.Lock(d.ID)
	defer unlock()

	recorded, err := e.donations.RecordInvoicePaid(ctx, d.ID, ev.ProviderRef, ev.PeriodEnd)
	if err != nil {
		return e.orphan(ctx, ev, "recording invoice failed: "+err.Error())
	}
	if !recorded {
		e.logger.Info("invoice already recorded, ignoring duplicate",
			"donation_id", d.ID,
			"invoice_ref", ev.ProviderRef,
		)
		return Outcome{Status: OutcomeChargeDuplicate, DonationID: d.ID, MatchedVia: "subscription_ref"}
	}

	amount := ev.Amount
	if !amount.IsPositive() {
		amount = d.Amount
	}

	e.logger.Info("recurring charge recorded",
		"donation_id", d.ID,
		"invoice_ref", ev.ProviderRef,
		"amount", amount.AmountMinor,
	)

	e.accumulate(ctx, d, amount)
	e.notifyReceipt(ctx, d, true, amount)

	if env, err := events.NewEnvelope(events.EventRecurringChargePaid, "donation", d.ID, events.DonationCompletedData{
		DonationID:  d.ID,
		Amount:      amount,
		CaseID:      d.CaseID,
		Provider:    ev.Provider,
		ProviderRef: ev.ProviderRef,
		CompletedAt: time.Now().UTC(),
	}); err == nil {
		e.publish(ctx, env)
	}

	return Outcome{Status: OutcomeChargeRecorded, DonationID: d.ID, MatchedVia: "subscription_ref"}
}

// handleInvoiceFailed marks the failed cycle on the subscription without
// touching the donation status: the subscription persists, only this charge
// failed.
func (e *Engine) handleInvoiceFailed(ctx context.Context, ev *InboundEvent) Outcome {
	d, err := noneIfMissing(e.donations.GetBySubscriptionRef(ctx, ev.SubscriptionRef))
	if err != nil {
		return e.orphan(ctx, ev, "subscription lookup failed: "+err.Error())
	}
	if d == nil {
		return e.orphan(ctx, ev, "no donation for subscription")
	}

	unlock := e.locks.Lock(d.ID)
	defer unlock()

	status := ev.ProviderStatus
	if status == "" {
		status = "past_due"
	}

	d, err = e.donations.SetSubscriptionFields(ctx, d.ID, donation.SubscriptionFields{
		SubscriptionRef:    ev.SubscriptionRef,
		SubscriptionStatus: status,
	})
	if err != nil {
		return e.orphan(ctx, ev, "subscription update failed: "+err.Error())
	}

	e.logger.Warn("recurring charge failed",
		"donation_id", d.ID,
		"invoice_ref", ev.ProviderRef,
		"subscription_status", d.SubscriptionStatus,
	)

	if env, err := events.NewEnvelope(events.EventRecurringChargeFailed, "donation", d.ID, d); err == nil {
		e.publish(ctx, env)
	}

	return Outcome{Status: OutcomeChargeFailed, DonationID: d.ID, MatchedVia: "subscription_ref"}
}

// resolveSubscription finds the donation a subscription event refers to:
// metadata back-reference first, then the subscription ref index.
func (e *Engine) resolveSubscription(ctx context.Context, ev *InboundEvent) (*donation.Donation, string, error) {
	if id := ev.DonationID(); id != "" {
		d, err := noneIfMissing(e.donations.GetByID(ctx, id))
		if err != nil {
			return nil, "", err
		}
		if d != nil {
			return d, "metadata", nil
		}
	}

	if ev.SubscriptionRef != "" {
		d, err := noneIfMissing(e.donations.GetBySubscriptionRef(ctx, ev.SubscriptionRef))
		if err != nil {
			return nil, "", err
		}
		if d != nil {
			return d, "subscription_ref", nil
		}
	}

	return nil, "", nil
}

// accumulate adds to the linked case, if any. Failures are logged and do not
// roll back the donation transition: partial failure is surfaced for manual
// reconciliation instead of attempting a distributed rollback.
func (e *Engine) accumulate(ctx context.Context, d *donation.Donation, amount money.Money) {
	if d.CaseID == "" {
		return
	}

	if err := e.cases.AddToCollected(ctx, d.CaseID, amount); err != nil {
		if database.IsNotFound(err) {
			e.logger.Warn("donation references missing case",
				"donation_id", d.ID,
				"case_id", d.CaseID,
			)
			return
		}
		e.logger.Error("case accumulation failed",
			"donation_id", d.ID,
			"case_id", d.CaseID,
			"amount", amount.AmountMinor,
			"error", err,
		)
		return
	}

	if env, err := events.NewEnvelope(events.EventCaseFundsAdded, "case", d.CaseID, events.CaseFundsAddedData{
		CaseID:     d.CaseID,
		DonationID: d.ID,
		Amount:     amount,
	}); err == nil {
		e.publish(ctx, env)
	}
}

func (e *Engine) notifyReceipt(ctx context.Context, d *donation.Donation, recurring bool, amount money.Money) {
	if e.receipts == nil {
		return
	}

	var err error
	if recurring {
		err = e.receipts.RecurringChargePaid(ctx, d, amount)
	} else {
		err = e.receipts.DonationCompleted(ctx, d)
	}
	if err != nil {
		e.logger.Error("receipt trigger failed",
			"donation_id", d.ID,
			"recurring", recurring,
			"error", err,
		)
	}
}

func (e *Engine) publishCompleted(ctx context.Context, d *donation.Donation, ev *InboundEvent) {
	env, err := events.NewEnvelope(events.EventDonationCompleted, "donation", d.ID, events.DonationCompletedData{
		DonationID:  d.ID,
		Amount:      d.Amount,
		CaseID:      d.CaseID,
		Provider:    ev.Provider,
		ProviderRef: ev.ProviderRef,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	e.publish(ctx, env)
}

func (e *Engine) publish(ctx context.Context, env *events.Envelope) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, env); err != nil {
		e.logger.Warn("event publish failed",
			"type", env.Type,
			"aggregate_id", env.AggregateID,
			"error", err,
		)
	}
}

// orphan persists the event for manual follow-up and acknowledges it. An
// unmatchable event is not an error.
func (e *Engine) orphan(ctx context.Context, ev *InboundEvent, reason string) Outcome {
	o := NewOrphan(ev, reason)

	if err := e.orphans.Create(ctx, o); err != nil {
		e.logger.Error("failed to persist orphan event",
			"provider", ev.Provider,
			"kind", ev.Kind,
			"provider_ref", ev.ProviderRef,
			"reason", reason,
			"error", err,
		)
		return Outcome{Status: OutcomeOrphaned, Reason: reason}
	}

	e.logger.Warn("event orphaned",
		"orphan_id", o.ID,
		"provider", ev.Provider,
		"kind", ev.Kind,
		"provider_ref", ev.ProviderRef,
		"amount", ev.Amount.AmountMinor,
		"reason", reason,
	)

	if env, err := events.NewEnvelope(events.EventOrphanRecorded, "orphan_event", o.ID, events.OrphanRecordedData{
		OrphanID:    o.ID,
		Provider:    o.Provider,
		EventKind:   string(o.Kind),
		ProviderRef: o.ProviderRef,
		Amount:      o.Amount,
		Reason:      reason,
	}); err == nil {
		e.publish(ctx, env)
	}

	return Outcome{Status: OutcomeOrphaned, Reason: reason}
}
