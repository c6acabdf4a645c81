package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// TenantReconciler keeps a tenant's active flag consistent with its
// subscription and database.
type TenantReconciler interface {
	Reconcile(ctx context.Context, tenantID string) (domain.Tenant, error)
}

// Compile-time check: TenantService implements TenantReconciler.
var _ TenantReconciler = (*TenantService)(nil)

// TenantService orchestrates tenant lifecycle operations.
type TenantService struct {
	repo      domain.TenantRepository
	subs      domain.SubscriptionRepository
	publisher domain.EventPublisher
	validator domain.TransitionValidator[domain.TenantStatus, domain.TenantEvent]
	settings  config.Settings
	options
}

// NewTenantService creates a service with the given adapters.
func NewTenantService(
	repo domain.TenantRepository,
	subs domain.SubscriptionRepository,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator[domain.TenantStatus, domain.TenantEvent],
	settings config.Settings,
	opts ...Option,
) *TenantService {
	return &TenantService{
		repo:      repo,
		subs:      subs,
		publisher: publisher,
		validator: validator,
		settings:  settings,
		options:   newOptions(opts),
	}
}

type registration struct {
	Name      string `validate:"required,max=120"`
	Email     string `validate:"required,email"`
	Subdomain string `validate:"required,min=3,max=63,hostname_rfc1123,excludes=.,lowercase"`
}

// Register creates a self-registered tenant awaiting approval.
func (s *TenantService) Register(ctx context.Context, name, email, subdomain string) (domain.Tenant, error) {
	if err := validateStruct(registration{Name: name, Email: email, Subdomain: subdomain}); err != nil {
		return domain.Tenant{}, err
	}

	tenant := domain.NewTenant(newID(), name, email, subdomain)
	tenant.CreatedAt = s.now()
	tenant.UpdatedAt = tenant.CreatedAt

	if err := s.repo.Create(ctx, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}

	s.publish(ctx, s.publisher, tenantEvent(domain.EventTenantRegistered, tenant))
	return tenant, nil
}

// Get returns a tenant by its unique identifier.
func (s *TenantService) Get(ctx context.Context, id string) (domain.Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns tenants matching the given filter. Filtering by database
// status failed gives the provisioning retry queue.
func (s *TenantService) List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	return s.repo.List(ctx, filter)
}

// Approve moves a pending tenant to approved and sends the welcome event.
// When auto-provisioning is off the tenant database is parked in manual,
// waiting for an operator to supply connection details.
func (s *TenantService) Approve(ctx context.Context, id, approverID string) (domain.Tenant, error) {
	if approverID == "" {
		return domain.Tenant{}, &domain.ValidationError{Field: "approver", Message: "is required"}
	}

	tenant, err := s.transition(ctx, id, domain.TenantEventApprove, func(t *domain.Tenant) {
		now := s.now()
		t.ApprovedAt = &now
		t.ApprovedBy = approverID
	})
	if err != nil {
		return domain.Tenant{}, err
	}

	if !s.settings.AutoProvisioning {
		ok, err := s.repo.CompareAndSetDatabaseStatus(ctx, id,
			domain.Sources(domain.ProvisioningTransitions, domain.ProvisioningEventAwaitManual),
			domain.ProvisioningManual)
		switch {
		case err != nil:
			s.logger.ErrorContext(ctx, "parking tenant database for manual provisioning",
				slog.String("tenant_id", id), slog.Any("error", err))
		case ok:
			tenant.DatabaseStatus = domain.ProvisioningManual
		}
	}

	s.publish(ctx, s.publisher, tenantEvent(domain.EventTenantApproved, tenant))
	return tenant, nil
}

// Reject cancels a pending tenant and records the reason.
func (s *TenantService) Reject(ctx context.Context, id, reason string) (domain.Tenant, error) {
	if reason == "" {
		return domain.Tenant{}, &domain.ValidationError{Field: "reason", Message: "is required"}
	}

	tenant, err := s.transition(ctx, id, domain.TenantEventReject, func(t *domain.Tenant) {
		t.Metadata = t.Metadata.Merge(domain.Metadata{domain.MetaRejectionReason: reason})
	})
	if err != nil {
		return domain.Tenant{}, err
	}

	event := tenantEvent(domain.EventTenantRejected, tenant)
	event.Data = map[string]string{"reason": reason}
	s.publish(ctx, s.publisher, event)
	return tenant, nil
}

// Suspend blocks an approved or active tenant.
func (s *TenantService) Suspend(ctx context.Context, id string) (domain.Tenant, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if current.Status == domain.TenantSuspended {
		return domain.Tenant{}, &domain.AlreadyInStateError{Entity: "tenant", Status: string(domain.TenantSuspended)}
	}

	tenant, err := s.transition(ctx, id, domain.TenantEventSuspend, nil)
	if err != nil {
		return domain.Tenant{}, err
	}

	s.publish(ctx, s.publisher, tenantEvent(domain.EventTenantSuspended, tenant))
	return tenant, nil
}

// Reactivate returns a suspended tenant to active. The tenant must hold a
// trial or active subscription, then a provisioned database, checked in
// that order.
func (s *TenantService) Reactivate(ctx context.Context, id string) (domain.Tenant, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}

	next, err := s.validator.Apply(ctx, tenant.Status, domain.TenantEventReactivate)
	if err != nil {
		return domain.Tenant{}, err
	}

	if _, err := s.subs.Live(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return domain.Tenant{}, &domain.NoActiveSubscriptionError{TenantID: id}
		}
		return domain.Tenant{}, fmt.Errorf("loading subscription: %w", err)
	}
	if tenant.DatabaseStatus != domain.ProvisioningProvisioned {
		return domain.Tenant{}, &domain.DatabaseNotReadyError{TenantID: id, Status: tenant.DatabaseStatus}
	}

	tenant.Status = next
	tenant.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("updating tenant: %w", err)
	}

	s.publish(ctx, s.publisher, tenantEvent(domain.EventTenantActivated, tenant))
	return tenant, nil
}

// Cancel ends a tenant for good. Its live subscription, if any, is
// cancelled with it. The record is retained for audit.
func (s *TenantService) Cancel(ctx context.Context, id, reason string) (domain.Tenant, error) {
	tenant, err := s.transition(ctx, id, domain.TenantEventCancel, nil)
	if err != nil {
		return domain.Tenant{}, err
	}

	sub, err := s.subs.Live(ctx, id)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
	case err != nil:
		return tenant, fmt.Errorf("loading subscription: %w", err)
	default:
		now := s.now()
		sub.Status = domain.SubscriptionCancelled
		sub.CancelledAt = &now
		sub.EndsAt = clampEnd(sub.StartsAt, now)
		sub.Metadata = sub.Metadata.Merge(domain.Metadata{domain.MetaCancellationReason: "tenant cancelled"})
		sub.UpdatedAt = now
		if err := s.subs.Update(ctx, sub); err != nil {
			return tenant, fmt.Errorf("cancelling subscription: %w", err)
		}
	}

	event := tenantEvent(domain.EventTenantCancelled, tenant)
	if reason != "" {
		event.Data = map[string]string{"reason": reason}
	}
	s.publish(ctx, s.publisher, event)
	return tenant, nil
}

// Reconcile activates an approved tenant once it holds a live subscription
// and a provisioned database, and lapses an active tenant back to approved
// when either stops holding. Other statuses are left alone.
func (s *TenantService) Reconcile(ctx context.Context, tenantID string) (domain.Tenant, error) {
	tenant, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}

	var event domain.TenantEvent
	var eventType domain.EventType
	switch tenant.Status {
	case domain.TenantApproved, domain.TenantActive:
	default:
		return tenant, nil
	}

	_, err = s.subs.Live(ctx, tenantID)
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.Tenant{}, fmt.Errorf("loading subscription: %w", err)
	}
	ready := tenant.ReadyForActivation(err == nil)

	switch {
	case tenant.Status == domain.TenantApproved && ready:
		event, eventType = domain.TenantEventActivate, domain.EventTenantActivated
	case tenant.Status == domain.TenantActive && !ready:
		event, eventType = domain.TenantEventLapse, ""
	default:
		return tenant, nil
	}

	next, err := s.validator.Apply(ctx, tenant.Status, event)
	if err != nil {
		return domain.Tenant{}, err
	}
	tenant.Status = next
	tenant.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("updating tenant: %w", err)
	}

	if eventType != "" {
		s.publish(ctx, s.publisher, tenantEvent(eventType, tenant))
	}
	return tenant, nil
}

// transition loads a tenant, validates the event, applies mutate and
// persists the result. Guard failures return before any write.
func (s *TenantService) transition(ctx context.Context, id string, event domain.TenantEvent, mutate func(*domain.Tenant)) (domain.Tenant, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}

	next, err := s.validator.Apply(ctx, tenant.Status, event)
	if err != nil {
		return domain.Tenant{}, err
	}

	tenant.Status = next
	tenant.UpdatedAt = s.now()
	if mutate != nil {
		mutate(&tenant)
	}

	if err := s.repo.Update(ctx, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("updating tenant: %w", err)
	}
	return tenant, nil
}

func tenantEvent(eventType domain.EventType, tenant domain.Tenant) domain.Event {
	return domain.Event{
		Type:     eventType,
		TenantID: tenant.ID,
		Email:    tenant.Email,
	}
}
