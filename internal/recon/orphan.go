package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"givingplatform/internal/common/database"
	"givingplatform/internal/common/money"
)

// OrphanStatus is the remediation state of an orphaned event.
type OrphanStatus string

const (
	OrphanUnresolved OrphanStatus = "unresolved"
	OrphanResolved   OrphanStatus = "resolved"
	OrphanIgnored    OrphanStatus = "ignored"
)

// OrphanEvent is a provider event no matching strategy could resolve,
// persisted with full diagnostic context for manual follow-up.
type OrphanEvent struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	EventID        string            `json:"event_id,omitempty"`
	Kind           EventKind         `json:"kind"`
	ProviderRef    string            `json:"provider_ref,omitempty"`
	Amount         money.Money       `json:"amount"`
	ProviderStatus string            `json:"provider_status,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Reason         string            `json:"reason"`
	Status         OrphanStatus      `json:"status"`
	Note           string            `json:"note,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	CreatedAt      time.Time         `json:"created_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// NewOrphan builds an orphan record from an inbound event.
func NewOrphan(ev *InboundEvent, reason string) *OrphanEvent {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &OrphanEvent{
		ID:             ulid.Make().String(),
		Provider:       ev.Provider,
		EventID:        ev.ID,
		Kind:           ev.Kind,
		ProviderRef:    ev.ProviderRef,
		Amount:         ev.Amount,
		ProviderStatus: ev.ProviderStatus,
		Metadata:       ev.Metadata,
		Payload:        ev.Raw,
		Reason:         reason,
		Status:         OrphanUnresolved,
		OccurredAt:     occurredAt,
		CreatedAt:      time.Now().UTC(),
	}
}

// OrphanStore persists orphaned events.
type OrphanStore interface {
	Create(ctx context.Context, o *OrphanEvent) error
	GetByID(ctx context.Context, id string) (*OrphanEvent, error)
	List(ctx context.Context, status OrphanStatus, limit, offset int) ([]*OrphanEvent, error)
	Resolve(ctx context.Context, id string, status OrphanStatus, note string) (*OrphanEvent, error)
}

const orphanColumns = `
	id, provider, event_id, kind, provider_ref, amount_minor, currency,
	provider_status, metadata, payload, reason, status, note,
	occurred_at, created_at, resolved_at`

// PostgresOrphanStore implements OrphanStore using PostgreSQL.
type PostgresOrphanStore struct {
	db *database.DB
}

// NewPostgresOrphanStore creates a new PostgreSQL orphan store.
func NewPostgresOrphanStore(db *database.DB) *PostgresOrphanStore {
	return &PostgresOrphanStore{db: db}
}

var _ OrphanStore = (*PostgresOrphanStore)(nil)

// Create inserts an orphan record.
func (s *PostgresOrphanStore) Create(ctx context.Context, o *OrphanEvent) error {
	query := `
		INSERT INTO orphan_events (
			id, provider, event_id, kind, provider_ref, amount_minor, currency,
			provider_status, metadata, payload, reason, status, note,
			occurred_at, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	metadata, _ := json.Marshal(o.Metadata)

	_, err := s.db.Exec(ctx, query,
		o.ID, o.Provider, nullStr(o.EventID), o.Kind, nullStr(o.ProviderRef),
		o.Amount.AmountMinor, o.Amount.Currency,
		nullStr(o.ProviderStatus), metadata, []byte(o.Payload), o.Reason, o.Status, nullStr(o.Note),
		o.OccurredAt, o.CreatedAt, o.ResolvedAt,
	)
	return err
}

// GetByID retrieves an orphan record.
func (s *PostgresOrphanStore) GetByID(ctx context.Context, id string) (*OrphanEvent, error) {
	query := `SELECT` + orphanColumns + ` FROM orphan_events WHERE id = $1`
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// List lists orphan records, newest first, optionally filtered by status.
func (s *PostgresOrphanStore) List(ctx context.Context, status OrphanStatus, limit, offset int) ([]*OrphanEvent, error) {
	query := `SELECT` + orphanColumns + `
		FROM orphan_events
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OrphanEvent
	for rows.Next() {
		o, err := scanOrphan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Resolve marks an orphan resolved or ignored, with an operator note.
func (s *PostgresOrphanStore) Resolve(ctx context.Context, id string, status OrphanStatus, note string) (*OrphanEvent, error) {
	query := `
		UPDATE orphan_events SET
			status = $2,
			note = NULLIF($3, ''),
			resolved_at = now()
		WHERE id = $1
		RETURNING` + orphanColumns
	return s.scan(s.db.QueryRow(ctx, query, id, status, note))
}

func (s *PostgresOrphanStore) scan(row pgx.Row) (*OrphanEvent, error) {
	o, err := scanOrphan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning orphan event: %w", err)
	}
	return o, nil
}

func scanOrphan(row pgx.Row) (*OrphanEvent, error) {
	var o OrphanEvent
	var eventID, providerRef, providerStatus, note *string
	var metadata, payload []byte

	err := row.Scan(
		&o.ID, &o.Provider, &eventID, &o.Kind, &providerRef,
		&o.Amount.AmountMinor, &o.Amount.Currency,
		&providerStatus, &metadata, &payload, &o.Reason, &o.Status, &note,
		&o.OccurredAt, &o.CreatedAt, &o.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	o.EventID = deref(eventID)
	o.ProviderRef = deref(providerRef)
	o.ProviderStatus = deref(providerStatus)
	o.Note = deref(note)
	o.Payload = payload
	_ = json.Unmarshal(metadata, &o.Metadata)

	return &o, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
