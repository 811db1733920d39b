package donation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"givingplatform/internal/common/database"
	"givingplatform/internal/common/money"
)

// SubscriptionFields carries provider-reported subscription state.
type SubscriptionFields struct {
	SubscriptionRef    string
	SubscriptionStatus string
	NextChargeAt       *time.Time
	ClearNextCharge    bool
	// NewStatus, when set, also moves the donation status (e.g. to
	// active-subscription). Nil leaves the status untouched.
	NewStatus *Status
}

// Store is the authoritative donation record store. Lookups return
// database.ErrNotFound rather than erroring on missing records; callers
// decide how to report.
type Store interface {
	Create(ctx context.Context, d *Donation) error
	GetByID(ctx context.Context, id string) (*Donation, error)

	// Indexed reference lookups used by the matcher cascade
	GetByExternalRef(ctx context.Context, ref string) (*Donation, error)
	GetByCompositeRef(ctx context.Context, ref string) (*Donation, error)
	FindByRefFragment(ctx context.Context, fragment string) (*Donation, error)
	GetBySubscriptionRef(ctx context.Context, ref string) (*Donation, error)
	ListOpenByAmount(ctx context.Context, amount money.Money, toleranceMinor int64, from, to time.Time) ([]*Donation, error)

	// TransitionStatus applies a guarded status transition. The bool reports
	// whether the transition actually occurred; re-applying a status that
	// already holds returns the record unchanged with false.
	TransitionStatus(ctx context.Context, id string, newStatus Status, providerRef string) (*Donation, bool, error)

	SetSubscriptionFields(ctx context.Context, id string, fields SubscriptionFields) (*Donation, error)

	// RecordInvoicePaid records a recurring charge and refreshes
	// next_charge_at. Seen invoice refs are remembered durably per donation,
	// so the bool is false for any re-delivered invoice, including an earlier
	// cycle's invoice arriving after later ones; recurring side effects fire
	// at most once per invoice.
	RecordInvoicePaid(ctx context.Context, id, invoiceRef string, nextChargeAt *time.Time) (bool, error)

	AttachExternalRef(ctx context.Context, id, ref string) (*Donation, error)
	UpdateDonor(ctx context.Context, id, name, email string) (*Donation, error)
}

const donationColumns = `
	id, amount_minor, currency, kind, frequency, status,
	external_payment_ref, subscription_ref, subscription_status,
	next_charge_at, last_invoice_ref, case_id, destination_label,
	donor_name, donor_email, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Create inserts a new donation.
func (s *PostgresStore) Create(ctx context.Context, d *Donation) error {
	query := `
		INSERT INTO donations (
			id, amount_minor, currency, kind, frequency, status,
			external_payment_ref, subscription_ref, subscription_status,
			next_charge_at, last_invoice_ref, case_id, destination_label,
			donor_name, donor_email, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.db.Exec(ctx, query,
		d.ID, d.Amount.AmountMinor, d.Amount.Currency, d.Kind, d.Frequency, d.Status,
		nullStr(d.ExternalPaymentRef), nullStr(d.SubscriptionRef), nullStr(d.SubscriptionStatus),
		d.NextChargeAt, nullStr(d.LastInvoiceRef), nullStr(d.CaseID), nullStr(d.DestinationLabel),
		nullStr(d.DonorName), nullStr(d.DonorEmail), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetByID retrieves a donation by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations WHERE id = $1`
	return s.scan(s.db.QueryRow(ctx, query, id))
}

// GetByExternalRef retrieves a donation by exact external payment ref.
func (s *PostgresStore) GetByExternalRef(ctx context.Context, ref string) (*Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations WHERE external_payment_ref = $1`
	return s.scan(s.db.QueryRow(ctx, query, ref))
}

// GetByCompositeRef retrieves a donation whose stored composite ref starts
// with "<ref>|".
func (s *PostgresStore) GetByCompositeRef(ctx context.Context, ref string) (*Donation, error) {
	query := `SELECT` + donationColumns + `
		FROM donations
		WHERE external_payment_ref LIKE $1 || '|%'
		ORDER BY created_at DESC
		LIMIT 1`
	return s.scan(s.db.QueryRow(ctx, query, ref))
}

// FindByRefFragment retrieves a donation whose external ref contains the
// fragment anywhere. Defends against inconsistent ref formatting upstream.
func (s *PostgresStore) FindByRefFragment(ctx context.Context, fragment string) (*Donation, error) {
	query := `SELECT` + donationColumns + `
		FROM donations
		WHERE external_payment_ref LIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT 1`
	return s.scan(s.db.QueryRow(ctx, query, fragment))
}

// GetBySubscriptionRef retrieves a donation by provider subscription ref.
func (s *PostgresStore) GetBySubscriptionRef(ctx context.Context, ref string) (*Donation, error) {
	query := `SELECT` + donationColumns + ` FROM donations WHERE subscription_ref = $1`
	return s.scan(s.db.QueryRow(ctx, query, ref))
}

// ListOpenByAmount lists pending/processing donations whose amount is within
// toleranceMinor of the given amount and whose created_at falls in [from, to].
func (s *PostgresStore) ListOpenByAmount(ctx context.Context, amount money.Money, toleranceMinor int64, from, to time.Time) ([]*Donation, error) {
	query := `SELECT` + donationColumns + `
		FROM donations
		WHERE status IN ('pending', 'processing')
		  AND currency = $1
		  AND abs(amount_minor - $2) <= $3
		  AND created_at BETWEEN $4 AND $5
		ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query, amount.Currency, amount.AmountMinor, toleranceMinor, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Donation
	for rows.Next() {
		d, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TransitionStatus applies a guarded transition. The WHERE clause excludes
// rows already in the target status, so concurrent deliveries of the same
// event observe exactly one transition.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, newStatus Status, providerRef string) (*Donation, bool, error) {
	query := `
		UPDATE donations SET
			status = $2,
			external_payment_ref = CASE
				WHEN $3 = '' THEN external_payment_ref
				WHEN external_payment_ref IS NULL OR external_payment_ref = '' THEN $3
				ELSE external_payment_ref
			END,
			updated_at = now()
		WHERE id = $1 AND status <> $2
		RETURNING` + donationColumns

	d, err := s.scan(s.db.QueryRow(ctx, query, id, newStatus, providerRef))
	if err == nil {
		return d, true, nil
	}
	if !database.IsNotFound(err) {
		return nil, false, err
	}

	// No row updated: either missing or already in the target status.
	d, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

// SetSubscriptionFields updates subscription state and optionally the status.
func (s *PostgresStore) SetSubscriptionFields(ctx context.Context, id string, fields SubscriptionFields) (*Donation, error) {
	query := `
		UPDATE donations SET
			subscription_ref = COALESCE(NULLIF($2, ''), subscription_ref),
			subscription_status = COALESCE(NULLIF($3, ''), subscription_status),
			next_charge_at = CASE WHEN $4 THEN NULL ELSE COALESCE($5, next_charge_at) END,
			status = COALESCE(NULLIF($6, ''), status),
			updated_at = now()
		WHERE id = $1
		RETURNING` + donationColumns

	var newStatus string
	if fields.NewStatus != nil {
		newStatus = string(*fields.NewStatus)
	}

	return s.scan(s.db.QueryRow(ctx, query,
		id, fields.SubscriptionRef, fields.SubscriptionStatus,
		fields.ClearNextCharge, fields.NextChargeAt, newStatus,
	))
}

// RecordInvoicePaid refreshes next_charge_at, guarded on the donation_invoices
// table so a re-delivered invoice event records nothing, regardless of how
// late it arrives relative to other cycles.
func (s *PostgresStore) RecordInvoicePaid(ctx context.Context, id, invoiceRef string, nextChargeAt *time.Time) (bool, error) {
	recorded := false

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO donation_invoices (donation_id, invoice_ref, recorded_at)
			VALUES ($1, $2, now())
			ON CONFLICT DO NOTHING
		`, id, invoiceRef)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Invoice already recorded.
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE donations SET
				last_invoice_ref = $2,
				next_charge_at = COALESCE($3, next_charge_at),
				updated_at = now()
			WHERE id = $1
		`, id, invoiceRef, nextChargeAt); err != nil {
			return err
		}

		recorded = true
		return nil
	})
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return false, database.ErrNotFound
		}
		return false, err
	}
	return recorded, nil
}

// AttachExternalRef stores the provider payment reference after checkout
// creation.
func (s *PostgresStore) AttachExternalRef(ctx context.Context, id, ref string) (*Donation, error) {
	query := `
		UPDATE donations SET external_payment_ref = $2, updated_at = now()
		WHERE id = $1
		RETURNING` + donationColumns
	return s.scan(s.db.QueryRow(ctx, query, id, ref))
}

// UpdateDonor sets donor contact details.
func (s *PostgresStore) UpdateDonor(ctx context.Context, id, name, email string) (*Donation, error) {
	query := `
		UPDATE donations SET
			donor_name = COALESCE(NULLIF($2, ''), donor_name),
			donor_email = COALESCE(NULLIF($3, ''), donor_email),
			updated_at = now()
		WHERE id = $1
		RETURNING` + donationColumns
	return s.scan(s.db.QueryRow(ctx, query, id, name, email))
}

func (s *PostgresStore) scan(row pgx.Row) (*Donation, error) {
	d, err := scanDonation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning donation: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) scanRow(rows pgx.Rows) (*Donation, error) {
	return scanDonation(rows)
}

func scanDonation(row pgx.Row) (*Donation, error) {
	var d Donation
	var externalRef, subRef, subStatus, lastInvoiceRef *string
	var caseID, destLabel, donorName, donorEmail *string

	err := row.Scan(
		&d.ID, &d.Amount.AmountMinor, &d.Amount.Currency, &d.Kind, &d.Frequency, &d.Status,
		&externalRef, &subRef, &subStatus,
		&d.NextChargeAt, &lastInvoiceRef, &caseID, &destLabel,
		&donorName, &donorEmail, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ExternalPaymentRef = deref(externalRef)
	d.SubscriptionRef = deref(subRef)
	d.SubscriptionStatus = deref(subStatus)
	d.LastInvoiceRef = deref(lastInvoiceRef)
	d.CaseID = deref(caseID)
	d.DestinationLabel = deref(destLabel)
	d.DonorName = deref(donorName)
	d.DonorEmail = deref(donorEmail)

	return &d, nil
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
