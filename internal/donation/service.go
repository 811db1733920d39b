package donation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"givingplatform/internal/common/events"
	"givingplatform/internal/common/money"
)

// Service provides donation operations for the admin/API surface.
type Service struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a new donation service.
func NewService(store Store, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateRequest is the request to create a donation.
type CreateRequest struct {
	AmountMinor      int64     `json:"amount_minor" validate:"required,gt=0"`
	Currency         string    `json:"currency" validate:"required,len=3"`
	Kind             Kind      `json:"kind" validate:"required,oneof=general zakat sadaqah"`
	Frequency        Frequency `json:"frequency" validate:"required,oneof=one-off weekly monthly"`
	CaseID           string    `json:"case_id,omitempty"`
	DestinationLabel string    `json:"destination_label,omitempty"`
	DonorName        string    `json:"donor_name,omitempty"`
	DonorEmail       string    `json:"donor_email,omitempty" validate:"omitempty,email"`

	// Provider references known at creation time. When both are present the
	// stored ref is the composite "<ref>|<secret>".
	ProviderRef    string `json:"provider_ref,omitempty"`
	ProviderSecret string `json:"provider_secret,omitempty"`
}

// Create creates a new donation record.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Donation, error) {
	if req.CaseID != "" && req.DestinationLabel != "" {
		return nil, fmt.Errorf("case_id and destination_label are mutually exclusive")
	}

	amount := money.New(req.AmountMinor, money.Normalize(req.Currency))

	d, err := New(ulid.Make().String(), amount, req.Kind, req.Frequency)
	if err != nil {
		return nil, fmt.Errorf("creating donation: %w", err)
	}

	d.CaseID = req.CaseID
	d.DestinationLabel = req.DestinationLabel
	d.DonorName = req.DonorName
	d.DonorEmail = req.DonorEmail
	if req.ProviderRef != "" {
		d.ExternalPaymentRef = CompositeRef(req.ProviderRef, req.ProviderSecret)
		d.Status = StatusProcessing
	}

	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("storing donation: %w", err)
	}

	if env, err := events.NewEnvelope(events.EventDonationCreated, "donation", d.ID, d); err == nil {
		if err := s.publisher.Publish(ctx, env); err != nil {
			s.logger.Warn("failed to publish donation created event",
				"donation_id", d.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("donation created",
		"donation_id", d.ID,
		"amount", d.Amount.AmountMinor,
		"currency", d.Amount.Currency,
		"frequency", d.Frequency,
		"case_id", d.CaseID,
	)

	return d, nil
}

// Get retrieves a donation by id.
func (s *Service) Get(ctx context.Context, id string) (*Donation, error) {
	return s.store.GetByID(ctx, id)
}

// AttachPaymentRef stores the provider payment reference once the checkout
// session exists, marking the donation as processing.
func (s *Service) AttachPaymentRef(ctx context.Context, id, providerRef, secret string) (*Donation, error) {
	d, err := s.store.AttachExternalRef(ctx, id, CompositeRef(providerRef, secret))
	if err != nil {
		return nil, err
	}

	if d.Status == StatusPending {
		d, _, err = s.store.TransitionStatus(ctx, id, StatusProcessing, "")
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("payment ref attached",
		"donation_id", id,
		"provider_ref", providerRef,
	)

	return d, nil
}

// UpdateDonor sets donor contact details before or after payment.
func (s *Service) UpdateDonor(ctx context.Context, id, name, email string) (*Donation, error) {
	return s.store.UpdateDonor(ctx, id, name, email)
}
