package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// NewSubscription is the input for SubscriptionService.Create.
type NewSubscription struct {
	TenantID string
	// PlanID falls back to the configured default plan when empty.
	PlanID        string
	Status        domain.SubscriptionStatus
	StartsAt      time.Time
	EndsAt        *time.Time
	PaymentMethod string
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Cancelled   int
	PlanChanged int
	Reminded    int
}

// SubscriptionService owns subscription state, billing periods and plan changes.
type SubscriptionService struct {
	subs       domain.SubscriptionRepository
	plans      domain.PlanRepository
	tenants    domain.TenantRepository
	publisher  domain.EventPublisher
	validator  domain.TransitionValidator[domain.SubscriptionStatus, domain.SubscriptionEvent]
	reconciler TenantReconciler
	settings   config.Settings
	options
}

// NewSubscriptionService creates a service with the given adapters.
func NewSubscriptionService(
	subs domain.SubscriptionRepository,
	plans domain.PlanRepository,
	tenants domain.TenantRepository,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator[domain.SubscriptionStatus, domain.SubscriptionEvent],
	reconciler TenantReconciler,
	settings config.Settings,
	opts ...Option,
) *SubscriptionService {
	return &SubscriptionService{
		subs:       subs,
		plans:      plans,
		tenants:    tenants,
		publisher:  publisher,
		validator:  validator,
		reconciler: reconciler,
		settings:   settings,
		options:    newOptions(opts),
	}
}

// Create subscribes a tenant to a plan. Amount and currency are captured
// from the plan now and never re-read.
func (s *SubscriptionService) Create(ctx context.Context, in NewSubscription) (domain.Subscription, error) {
	if in.Status != domain.SubscriptionTrial && in.Status != domain.SubscriptionActive {
		return domain.Subscription{}, &domain.ValidationError{Field: "status", Message: "must be trial or active"}
	}
	if in.PlanID == "" {
		in.PlanID = s.settings.DefaultPlanID
	}
	if in.PlanID == "" {
		return domain.Subscription{}, &domain.ValidationError{Field: "plan_id", Message: "is required"}
	}

	tenant, err := s.tenants.GetByID(ctx, in.TenantID)
	if err != nil {
		return domain.Subscription{}, err
	}
	switch tenant.Status {
	case domain.TenantPending, domain.TenantCancelled:
		return domain.Subscription{}, &domain.InvalidStateError{Entity: "tenant", Action: "subscribe", Current: string(tenant.Status)}
	}

	plan, err := s.plans.GetByID(ctx, in.PlanID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !plan.Active {
		return domain.Subscription{}, &domain.ValidationError{Field: "plan_id", Message: "plan is not active"}
	}

	if _, err := s.subs.Live(ctx, in.TenantID); err == nil {
		return domain.Subscription{}, &domain.ConflictError{Entity: "subscription", Reason: "tenant already has an active subscription"}
	} else if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.Subscription{}, fmt.Errorf("loading subscription: %w", err)
	}

	now := s.now()
	startsAt := in.StartsAt
	if startsAt.IsZero() {
		startsAt = now
	}
	endsAt := in.EndsAt
	if endsAt == nil {
		endsAt = s.defaultEnd(plan, in.Status, startsAt)
	}
	if endsAt != nil && endsAt.Before(startsAt) {
		return domain.Subscription{}, &domain.ValidationError{Field: "ends_at", Message: "must not be before starts_at"}
	}

	sub := domain.Subscription{
		ID:            newID(),
		TenantID:      in.TenantID,
		PlanID:        plan.ID,
		Status:        in.Status,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		PaymentMethod: in.PaymentMethod,
		Metadata:      domain.Metadata{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("creating subscription: %w", err)
	}

	s.publish(ctx, s.publisher, s.event(ctx, domain.EventSubscriptionCreated, sub, tenant.Email))
	s.reconcile(ctx, sub.TenantID)
	return sub, nil
}

// Get returns a subscription by id.
func (s *SubscriptionService) Get(ctx context.Context, id string) (domain.Subscription, error) {
	return s.subs.GetByID(ctx, id)
}

// List returns subscriptions matching the filter.
func (s *SubscriptionService) List(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	return s.subs.List(ctx, filter)
}

// Cancel ends a trial or active subscription. Immediate cancellation takes
// effect now; otherwise the intent is recorded and the sweep cancels the
// subscription once its period ends.
func (s *SubscriptionService) Cancel(ctx context.Context, id string, immediate bool, reason string) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	next, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventCancel)
	if err != nil {
		return domain.Subscription{}, err
	}

	meta := domain.Metadata{}
	if reason != "" {
		meta[domain.MetaCancellationReason] = reason
	}

	now := s.now()
	if !immediate {
		if sub.EndsAt == nil {
			return domain.Subscription{}, &domain.ValidationError{Field: "immediate", Message: "subscription has no period end"}
		}
		meta[domain.MetaCancelAtPeriodEnd] = true
		sub.Metadata = sub.Metadata.Merge(meta)
		sub.UpdatedAt = now
		if err := s.subs.Update(ctx, sub); err != nil {
			return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
		}
		return sub, nil
	}

	sub.Status = next
	sub.CancelledAt = &now
	sub.EndsAt = clampEnd(sub.StartsAt, now)
	sub.Metadata = sub.Metadata.Merge(meta)
	sub.UpdatedAt = now
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	s.emitCancelled(ctx, sub, reason)
	s.reconcile(ctx, sub.TenantID)
	return sub, nil
}

// Renew extends the billing period by one cycle from the later of the
// current end and now. The status does not change.
func (s *SubscriptionService) Renew(ctx context.Context, id string) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	return s.extend(ctx, sub, false)
}

// extend renews sub by one cycle and saves it. paid marks the new period as
// covered by a payment.
func (s *SubscriptionService) extend(ctx context.Context, sub domain.Subscription, paid bool) (domain.Subscription, error) {
	sub, err := s.renew(ctx, sub)
	if err != nil {
		return domain.Subscription{}, err
	}
	if paid {
		sub.Metadata = sub.WithPaidPeriod(sub.UpdatedAt)
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	event := s.event(ctx, domain.EventSubscriptionRenewed, sub, "")
	if sub.EndsAt != nil {
		event.Data = map[string]string{"ends_at": sub.EndsAt.Format(time.RFC3339)}
	}
	s.publish(ctx, s.publisher, event)
	return sub, nil
}

// ChangePlan moves an active subscription to another plan, either now or
// at the end of the current period.
func (s *SubscriptionService) ChangePlan(ctx context.Context, id, planID string, immediate bool) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if _, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventChangePlan); err != nil {
		return domain.Subscription{}, err
	}

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !plan.Active {
		return domain.Subscription{}, &domain.ValidationError{Field: "plan_id", Message: "plan is not active"}
	}
	if plan.ID == sub.PlanID {
		return domain.Subscription{}, &domain.ValidationError{Field: "plan_id", Message: "subscription is already on this plan"}
	}

	data := map[string]string{"plan_id": plan.ID}
	if immediate {
		applyPlan(&sub, plan)
		data["immediate"] = "true"
	} else {
		if sub.EndsAt == nil {
			return domain.Subscription{}, &domain.ValidationError{Field: "immediate", Message: "subscription has no period end"}
		}
		sub.Metadata = sub.WithScheduledChange(domain.ScheduledPlanChange{PlanID: plan.ID, ScheduledFor: *sub.EndsAt})
		data["scheduled_for"] = sub.EndsAt.Format(time.RFC3339)
	}
	sub.UpdatedAt = s.now()

	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	event := s.event(ctx, domain.EventSubscriptionPlanChanged, sub, "")
	event.Data = data
	s.publish(ctx, s.publisher, event)
	return sub, nil
}

// ActivateFromPayment applies a confirmed payment. A trial becomes active
// with a fresh billing period. On an active subscription the payment first
// settles the current period; only once that is paid does a payment renew.
func (s *SubscriptionService) ActivateFromPayment(ctx context.Context, id string) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	switch sub.Status {
	case domain.SubscriptionCancelled:
		return domain.Subscription{}, &domain.TerminalStateError{Entity: "subscription", ID: sub.ID, Status: string(sub.Status)}
	case domain.SubscriptionActive:
		if sub.CurrentPeriodPaid() {
			return s.extend(ctx, sub, true)
		}
		return s.settlePeriod(ctx, sub)
	}

	next, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventActivate)
	if err != nil {
		return domain.Subscription{}, err
	}

	plan, err := s.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("loading plan: %w", err)
	}

	now := s.now()
	sub.Status = next
	sub.StartsAt = now
	sub.EndsAt = plan.BillingCycle.PeriodEnd(now)
	delete(sub.Metadata, domain.MetaTrialReminderSent)
	sub.Metadata = sub.WithPaidPeriod(now)
	sub.UpdatedAt = now
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	s.publish(ctx, s.publisher, s.event(ctx, domain.EventSubscriptionActivated, sub, ""))
	return sub, nil
}

// settlePeriod records the first payment of an active subscription's
// current period. The period itself is unchanged.
func (s *SubscriptionService) settlePeriod(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	now := s.now()
	sub.Metadata = sub.WithPaidPeriod(now)
	sub.UpdatedAt = now
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	event := s.event(ctx, domain.EventSubscriptionActivated, sub, "")
	event.Data = map[string]string{"paid_through": sub.Metadata.String(domain.MetaPaidThrough)}
	s.publish(ctx, s.publisher, event)
	return sub, nil
}

// Sweep applies period-end intents that are due at now: cancellations and
// scheduled plan changes. It also sends one reminder per trial that ends
// within the reminder window. Failures on one subscription do not stop the
// others; they are joined into the returned error.
func (s *SubscriptionService) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	var errs []error

	due, err := s.subs.List(ctx, domain.SubscriptionFilter{LiveOnly: true, EndsBefore: &now})
	if err != nil {
		return result, fmt.Errorf("listing due subscriptions: %w", err)
	}

	for _, sub := range due {
		switch {
		case sub.Metadata.Bool(domain.MetaCancelAtPeriodEnd):
			if err := s.sweepCancel(ctx, sub, now); err != nil {
				errs = append(errs, fmt.Errorf("cancelling subscription %s: %w", sub.ID, err))
				continue
			}
			result.Cancelled++
		default:
			change, ok := sub.ScheduledChange()
			if !ok || change.ScheduledFor.After(now) {
				continue
			}
			if err := s.sweepPlanChange(ctx, sub, change); err != nil {
				errs = append(errs, fmt.Errorf("changing plan of subscription %s: %w", sub.ID, err))
				continue
			}
			result.PlanChanged++
		}
	}

	window := s.settings.TrialReminderWindow
	if window <= 0 {
		window = 72 * time.Hour
	}
	horizon := now.Add(window)
	trial := domain.SubscriptionTrial
	trials, err := s.subs.List(ctx, domain.SubscriptionFilter{Status: &trial, EndsBefore: &horizon})
	if err != nil {
		errs = append(errs, fmt.Errorf("listing expiring trials: %w", err))
	}
	for _, sub := range trials {
		if sub.Metadata.Bool(domain.MetaTrialReminderSent) || sub.EndsAt == nil || !sub.EndsAt.After(now) {
			continue
		}
		sub.Metadata = sub.Metadata.Merge(domain.Metadata{domain.MetaTrialReminderSent: true})
		sub.UpdatedAt = now
		if err := s.subs.Update(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("marking trial reminder for %s: %w", sub.ID, err))
			continue
		}
		event := s.event(ctx, domain.EventSubscriptionTrialEnding, sub, "")
		event.Data = map[string]string{"ends_at": sub.EndsAt.Format(time.RFC3339)}
		s.publish(ctx, s.publisher, event)
		result.Reminded++
	}

	if result != (SweepResult{}) {
		s.logger.InfoContext(ctx, "subscription sweep",
			slog.Int("cancelled", result.Cancelled),
			slog.Int("plan_changed", result.PlanChanged),
			slog.Int("reminded", result.Reminded),
		)
	}
	return result, errors.Join(errs...)
}

func (s *SubscriptionService) sweepCancel(ctx context.Context, sub domain.Subscription, now time.Time) error {
	next, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventCancel)
	if err != nil {
		return err
	}
	sub.Status = next
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := s.subs.Update(ctx, sub); err != nil {
		return err
	}

	s.emitCancelled(ctx, sub, sub.Metadata.String(domain.MetaCancellationReason))
	s.reconcile(ctx, sub.TenantID)
	return nil
}

func (s *SubscriptionService) sweepPlanChange(ctx context.Context, sub domain.Subscription, change domain.ScheduledPlanChange) error {
	if _, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventChangePlan); err != nil {
		return err
	}
	plan, err := s.plans.GetByID(ctx, change.PlanID)
	if err != nil {
		return err
	}
	applyPlan(&sub, plan)
	sub.UpdatedAt = s.now()
	if err := s.subs.Update(ctx, sub); err != nil {
		return err
	}

	event := s.event(ctx, domain.EventSubscriptionPlanChanged, sub, "")
	event.Data = map[string]string{"plan_id": plan.ID, "scheduled": "true"}
	s.publish(ctx, s.publisher, event)
	return nil
}

func (s *SubscriptionService) renew(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if sub.Status == domain.SubscriptionCancelled {
		return domain.Subscription{}, &domain.TerminalStateError{Entity: "subscription", ID: sub.ID, Status: string(sub.Status)}
	}
	next, err := s.validator.Apply(ctx, sub.Status, domain.SubscriptionEventRenew)
	if err != nil {
		return domain.Subscription{}, err
	}

	plan, err := s.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("loading plan: %w", err)
	}

	now := s.now()
	from := now
	if sub.EndsAt != nil && sub.EndsAt.After(now) {
		from = *sub.EndsAt
	}
	sub.Status = next
	sub.EndsAt = plan.BillingCycle.PeriodEnd(from)
	delete(sub.Metadata, domain.MetaTrialReminderSent)
	sub.UpdatedAt = now
	return sub, nil
}

// defaultEnd is a trial's configured length or one billing cycle.
func (s *SubscriptionService) defaultEnd(plan domain.Plan, status domain.SubscriptionStatus, startsAt time.Time) *time.Time {
	if status == domain.SubscriptionTrial {
		days := plan.TrialDays
		if days <= 0 {
			days = s.settings.TrialDays
		}
		end := startsAt.AddDate(0, 0, days)
		return &end
	}
	return plan.BillingCycle.PeriodEnd(startsAt)
}

func (s *SubscriptionService) emitCancelled(ctx context.Context, sub domain.Subscription, reason string) {
	event := s.event(ctx, domain.EventSubscriptionCancelled, sub, "")
	event.Data = map[string]string{"grace_period_days": strconv.Itoa(s.settings.GracePeriodDays)}
	if reason != "" {
		event.Data["reason"] = reason
	}
	s.publish(ctx, s.publisher, event)
}

// reconcile re-evaluates the owning tenant. A failure is logged: the
// subscription change is already committed.
func (s *SubscriptionService) reconcile(ctx context.Context, tenantID string) {
	if _, err := s.reconciler.Reconcile(ctx, tenantID); err != nil {
		s.logger.ErrorContext(ctx, "reconciling tenant status",
			slog.String("tenant_id", tenantID), slog.Any("error", err))
	}
}

func (s *SubscriptionService) event(ctx context.Context, eventType domain.EventType, sub domain.Subscription, email string) domain.Event {
	if email == "" {
		if tenant, err := s.tenants.GetByID(ctx, sub.TenantID); err == nil {
			email = tenant.Email
		}
	}
	return domain.Event{
		Type:           eventType,
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Email:          email,
	}
}

func applyPlan(sub *domain.Subscription, plan domain.Plan) {
	sub.PlanID = plan.ID
	sub.Amount = plan.Price
	sub.Currency = plan.Currency
	delete(sub.Metadata, domain.MetaScheduledPlanChange)
}

// clampEnd keeps ends_at at or after starts_at.
func clampEnd(startsAt, at time.Time) *time.Time {
	if at.Before(startsAt) {
		at = startsAt
	}
	return &at
}
