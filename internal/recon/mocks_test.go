package recon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"givingplatform/internal/common/database"
	"givingplatform/internal/common/events"
	"givingplatform/internal/common/money"
	"givingplatform/internal/donation"
)

var errMockCase = errors.New("mock case store error")

// memStore is an in-memory donation.Store with the same lookup and guard
// semantics as the Postgres implementation.
type memStore struct {
	mu        sync.Mutex
	donations map[string]*donation.Donation
	invoices  map[string]map[string]bool

	TransitionCalls int
	InvoiceCalls    int

	FailTransition error
	FailLookup     error
}

func newMemStore() *memStore {
	return &memStore{
		donations: make(map[string]*donation.Donation),
		invoices:  make(map[string]map[string]bool),
	}
}

func (s *memStore) add(d *donation.Donation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donations[d.ID] = d
}

func (s *memStore) Create(ctx context.Context, d *donation.Donation) error {
	s.add(d)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*donation.Donation, error) {
	if s.FailLookup != nil {
		return nil, s.FailLookup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) GetByExternalRef(ctx context.Context, ref string) (*donation.Donation, error) {
	return s.find(func(d *donation.Donation) bool {
		return d.ExternalPaymentRef != "" && d.ExternalPaymentRef == ref
	})
}

func (s *memStore) GetByCompositeRef(ctx context.Context, ref string) (*donation.Donation, error) {
	return s.find(func(d *donation.Donation) bool {
		return strings.HasPrefix(d.ExternalPaymentRef, ref+donation.RefDelimiter)
	})
}

func (s *memStore) FindByRefFragment(ctx context.Context, fragment string) (*donation.Donation, error) {
	return s.find(func(d *donation.Donation) bool {
		return d.ExternalPaymentRef != "" && strings.Contains(d.ExternalPaymentRef, fragment)
	})
}

func (s *memStore) GetBySubscriptionRef(ctx context.Context, ref string) (*donation.Donation, error) {
	return s.find(func(d *donation.Donation) bool {
		return d.SubscriptionRef != "" && d.SubscriptionRef == ref
	})
}

func (s *memStore) ListOpenByAmount(ctx context.Context, amount money.Money, toleranceMinor int64, from, to time.Time) ([]*donation.Donation, error) {
	if s.FailLookup != nil {
		return nil, s.FailLookup
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*donation.Donation
	for _, d := range s.donations {
		if d.Status != donation.StatusPending && d.Status != donation.StatusProcessing {
			continue
		}
		if !d.Amount.WithinTolerance(amount, toleranceMinor) {
			continue
		}
		if d.CreatedAt.Before(from) || d.CreatedAt.After(to) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id string, newStatus donation.Status, providerRef string) (*donation.Donation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TransitionCalls++
	if s.FailTransition != nil {
		return nil, false, s.FailTransition
	}

	d, ok := s.donations[id]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	if d.Status == newStatus {
		cp := *d
		return &cp, false, nil
	}

	d.Status = newStatus
	if d.ExternalPaymentRef == "" && providerRef != "" {
		d.ExternalPaymentRef = providerRef
	}
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	return &cp, true, nil
}

func (s *memStore) SetSubscriptionFields(ctx context.Context, id string, fields donation.SubscriptionFields) (*donation.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donations[id]
	if !ok {
		return nil, database.ErrNotFound
	}

	if fields.SubscriptionRef != "" {
		d.SubscriptionRef = fields.SubscriptionRef
	}
	if fields.SubscriptionStatus != "" {
		d.SubscriptionStatus = fields.SubscriptionStatus
	}
	if fields.ClearNextCharge {
		d.NextChargeAt = nil
	} else if fields.NextChargeAt != nil {
		d.NextChargeAt = fields.NextChargeAt
	}
	if fields.NewStatus != nil {
		d.Status = *fields.NewStatus
	}
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	return &cp, nil
}

func (s *memStore) RecordInvoicePaid(ctx context.Context, id, invoiceRef string, nextChargeAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InvoiceCalls++
	d, ok := s.donations[id]
	if !ok {
		return false, database.ErrNotFound
	}
	if s.invoices[id][invoiceRef] {
		return false, nil
	}
	if s.invoices[id] == nil {
		s.invoices[id] = make(map[string]bool)
	}
	s.invoices[id][invoiceRef] = true
	d.LastInvoiceRef = invoiceRef
	if nextChargeAt != nil {
		d.NextChargeAt = nextChargeAt
	}
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memStore) AttachExternalRef(ctx context.Context, id, ref string) (*donation.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	d.ExternalPaymentRef = ref
	cp := *d
	return &cp, nil
}

func (s *memStore) UpdateDonor(ctx context.Context, id, name, email string) (*donation.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	d.DonorName = name
	d.DonorEmail = email
	cp := *d
	return &cp, nil
}

func (s *memStore) find(match func(*donation.Donation) bool) (*donation.Donation, error) {
	if s.FailLookup != nil {
		return nil, s.FailLookup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.donations {
		if match(d) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

// mockAccumulator records AddToCollected calls.
type mockAccumulator struct {
	mu    sync.Mutex
	Calls []accumulateCall
	Err   error
}

type accumulateCall struct {
	CaseID string
	Amount money.Money
}

func (m *mockAccumulator) AddToCollected(ctx context.Context, caseID string, amount money.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Calls = append(m.Calls, accumulateCall{CaseID: caseID, Amount: amount})
	return nil
}

// mockOrphanStore collects created orphans.
type mockOrphanStore struct {
	mu      sync.Mutex
	Created []*OrphanEvent
	Err     error
}

func (m *mockOrphanStore) Create(ctx context.Context, o *OrphanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Created = append(m.Created, o)
	return nil
}

func (m *mockOrphanStore) GetByID(ctx context.Context, id string) (*OrphanEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.Created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *mockOrphanStore) List(ctx context.Context, status OrphanStatus, limit, offset int) ([]*OrphanEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Created, nil
}

func (m *mockOrphanStore) Resolve(ctx context.Context, id string, status OrphanStatus, note string) (*OrphanEvent, error) {
	o, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = status
	o.Note = note
	return o, nil
}

// mockReceipts counts receipt triggers.
type mockReceipts struct {
	mu             sync.Mutex
	CompletedCalls int
	RecurringCalls int
	Err            error
}

func (m *mockReceipts) DonationCompleted(ctx context.Context, d *donation.Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletedCalls++
	return m.Err
}

func (m *mockReceipts) RecurringChargePaid(ctx context.Context, d *donation.Donation, amount money.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecurringCalls++
	return m.Err
}

// mockPublisher collects published event types.
type mockPublisher struct {
	mu        sync.Mutex
	Published []string
}

func (m *mockPublisher) Publish(ctx context.Context, env *events.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, env.Type)
	return nil
}

func (m *mockPublisher) has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Published {
		if t == eventType {
			return true
		}
	}
	return false
}
