package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"givingplatform/internal/common/database"
	"givingplatform/internal/common/money"
)

// Store persists cases. AddToCollected is the accumulator: an atomic
// read-modify-write that never lets the total go backwards.
type Store interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id string) (*Case, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Case, error)
	AddToCollected(ctx context.Context, caseID string, amount money.Money) error
	SetActive(ctx context.Context, id string, active bool) (*Case, error)
}

const caseColumns = `
	id, title, description, amount_required_minor, amount_collected_minor,
	currency, active, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Create inserts a new case.
func (s *PostgresStore) Create(ctx context.Context, c *Case) error {
	query := `
		INSERT INTO cases (
			id, title, description, amount_required_minor, amount_collected_minor,
			currency, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		c.ID, c.Title, c.Description,
		c.AmountRequired.AmountMinor, c.AmountCollected.AmountMinor,
		c.AmountRequired.Currency, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetByID retrieves a case by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Case, error) {
	query := `SELECT` + caseColumns + ` FROM cases WHERE id = $1`
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// List lists cases, most recent first.
func (s *PostgresStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Case, error) {
	query := `SELECT` + caseColumns + `
		FROM cases
		WHERE (NOT $1 OR active)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddToCollected atomically adds a positive amount to the running total.
// Returns database.ErrNotFound when the case does not exist.
func (s *PostgresStore) AddToCollected(ctx context.Context, caseID string, amount money.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	query := `
		UPDATE cases SET
			amount_collected_minor = amount_collected_minor + $2,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, caseID, amount.AmountMinor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// SetActive toggles a case.
func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) (*Case, error) {
	query := `
		UPDATE cases SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING` + caseColumns
	return s.scan(s.db.QueryRow(ctx, query, id, active))
}

func (s *PostgresStore) scan(row pgx.Row) (*Case, error) {
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	return c, nil
}

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var currency money.Currency

	err := row.Scan(
		&c.ID, &c.Title, &c.Description,
		&c.AmountRequired.AmountMinor, &c.AmountCollected.AmountMinor,
		&currency, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AmountRequired.Currency = currency
	c.AmountCollected.Currency = currency

	return &c, nil
}
