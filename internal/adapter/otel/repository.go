package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantops/internal/domain"
)

const tracerName = "github.com/neomorfeo/tenantops/internal/adapter/otel"

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TracingTenantRepository wraps a domain.TenantRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingTenantRepository struct {
	next   domain.TenantRepository
	tracer trace.Tracer
}

// Compile-time check: TracingTenantRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TracingTenantRepository)(nil)

// NewTracingTenantRepository creates a tracing decorator around the given repository.
func NewTracingTenantRepository(next domain.TenantRepository) *TracingTenantRepository {
	return &TracingTenantRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingTenantRepository) Create(ctx context.Context, tenant domain.Tenant) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Create",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.subdomain", tenant.Subdomain),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, tenant)
	recordError(span, err)
	return err
}

func (r *TracingTenantRepository) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByID",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer span.End()

	tenant, err := r.next.GetByID(ctx, id)
	recordError(span, err)
	return tenant, err
}

func (r *TracingTenantRepository) List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}
	if filter.DatabaseStatus != nil {
		span.SetAttributes(attribute.String("filter.database_status", string(*filter.DatabaseStatus)))
	}

	tenants, err := r.next.List(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(tenants)))
	}
	return tenants, err
}

func (r *TracingTenantRepository) Update(ctx context.Context, tenant domain.Tenant) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Update",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.status", string(tenant.Status)),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, tenant)
	recordError(span, err)
	return err
}

func (r *TracingTenantRepository) CompareAndSetDatabaseStatus(ctx context.Context, id string, from []domain.ProvisioningStatus, to domain.ProvisioningStatus) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.CompareAndSetDatabaseStatus",
		trace.WithAttributes(
			attribute.String("tenant.id", id),
			attribute.String("database.status.to", string(to)),
		),
	)
	defer span.End()

	ok, err := r.next.CompareAndSetDatabaseStatus(ctx, id, from, to)
	recordError(span, err)
	span.SetAttributes(attribute.Bool("result.swapped", ok))
	return ok, err
}

// TracingSubscriptionRepository wraps a domain.SubscriptionRepository with tracing.
type TracingSubscriptionRepository struct {
	next   domain.SubscriptionRepository
	tracer trace.Tracer
}

// Compile-time check: TracingSubscriptionRepository implements domain.SubscriptionRepository.
var _ domain.SubscriptionRepository = (*TracingSubscriptionRepository)(nil)

func NewTracingSubscriptionRepository(next domain.SubscriptionRepository) *TracingSubscriptionRepository {
	return &TracingSubscriptionRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func (r *TracingSubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) error {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.Create",
		trace.WithAttributes(
			attribute.String("subscription.id", sub.ID),
			attribute.String("tenant.id", sub.TenantID),
			attribute.String("subscription.status", string(sub.Status)),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, sub)
	recordError(span, err)
	return err
}

func (r *TracingSubscriptionRepository) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.GetByID",
		trace.WithAttributes(attribute.String("subscription.id", id)),
	)
	defer span.End()

	sub, err := r.next.GetByID(ctx, id)
	recordError(span, err)
	return sub, err
}

func (r *TracingSubscriptionRepository) Live(ctx context.Context, tenantID string) (domain.Subscription, error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.Live",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	sub, err := r.next.Live(ctx, tenantID)
	// No live subscription is an answer, not a failure.
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		recordError(span, err)
	}
	return sub, err
}

func (r *TracingSubscriptionRepository) List(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.List",
		trace.WithAttributes(
			attribute.String("filter.tenant_id", filter.TenantID),
			attribute.Bool("filter.live_only", filter.LiveOnly),
			attribute.Int("filter.limit", filter.Limit),
		),
	)
	defer span.End()

	subs, err := r.next.List(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(subs)))
	}
	return subs, err
}

func (r *TracingSubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.Update",
		trace.WithAttributes(
			attribute.String("subscription.id", sub.ID),
			attribute.String("subscription.status", string(sub.Status)),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, sub)
	recordError(span, err)
	return err
}

// TracingPaymentRepository wraps a domain.PaymentRepository with tracing.
type TracingPaymentRepository struct {
	next   domain.PaymentRepository
	tracer trace.Tracer
}

// Compile-time check: TracingPaymentRepository implements domain.PaymentRepository.
var _ domain.PaymentRepository = (*TracingPaymentRepository)(nil)

func NewTracingPaymentRepository(next domain.PaymentRepository) *TracingPaymentRepository {
	return &TracingPaymentRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func (r *TracingPaymentRepository) Create(ctx context.Context, p domain.Payment) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Create",
		trace.WithAttributes(
			attribute.String("payment.id", p.ID),
			attribute.String("payment.method", p.Method),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, p)
	recordError(span, err)
	return err
}

func (r *TracingPaymentRepository) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByID",
		trace.WithAttributes(attribute.String("payment.id", id)),
	)
	defer span.End()

	p, err := r.next.GetByID(ctx, id)
	recordError(span, err)
	return p, err
}

func (r *TracingPaymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.List")
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	payments, err := r.next.List(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(payments)))
	}
	return payments, err
}

func (r *TracingPaymentRepository) AttachProof(ctx context.Context, p domain.Payment) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.AttachProof",
		trace.WithAttributes(attribute.String("payment.id", p.ID)),
	)
	defer span.End()

	ok, err := r.next.AttachProof(ctx, p)
	recordError(span, err)
	span.SetAttributes(attribute.Bool("result.swapped", ok))
	return ok, err
}

func (r *TracingPaymentRepository) Resolve(ctx context.Context, p domain.Payment) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Resolve",
		trace.WithAttributes(
			attribute.String("payment.id", p.ID),
			attribute.String("payment.status", string(p.Status)),
		),
	)
	defer span.End()

	ok, err := r.next.Resolve(ctx, p)
	recordError(span, err)
	span.SetAttributes(attribute.Bool("result.swapped", ok))
	return ok, err
}

// TracingPlanRepository wraps a domain.PlanRepository with tracing.
type TracingPlanRepository struct {
	next   domain.PlanRepository
	tracer trace.Tracer
}

// Compile-time check: TracingPlanRepository implements domain.PlanRepository.
var _ domain.PlanRepository = (*TracingPlanRepository)(nil)

func NewTracingPlanRepository(next domain.PlanRepository) *TracingPlanRepository {
	return &TracingPlanRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func (r *TracingPlanRepository) Create(ctx context.Context, plan domain.Plan) error {
	ctx, span := r.tracer.Start(ctx, "PlanRepository.Create",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.String("plan.billing_cycle", string(plan.BillingCycle)),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, plan)
	recordError(span, err)
	return err
}

func (r *TracingPlanRepository) GetByID(ctx context.Context, id string) (domain.Plan, error) {
	ctx, span := r.tracer.Start(ctx, "PlanRepository.GetByID",
		trace.WithAttributes(attribute.String("plan.id", id)),
	)
	defer span.End()

	plan, err := r.next.GetByID(ctx, id)
	recordError(span, err)
	return plan, err
}

func (r *TracingPlanRepository) List(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	ctx, span := r.tracer.Start(ctx, "PlanRepository.List",
		trace.WithAttributes(attribute.Bool("filter.active_only", activeOnly)),
	)
	defer span.End()

	plans, err := r.next.List(ctx, activeOnly)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(plans)))
	}
	return plans, err
}

func (r *TracingPlanRepository) Update(ctx context.Context, plan domain.Plan) error {
	ctx, span := r.tracer.Start(ctx, "PlanRepository.Update",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.Bool("plan.active", plan.Active),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, plan)
	recordError(span, err)
	return err
}

// TracingTenantDatabaseRepository wraps a domain.TenantDatabaseRepository
// with tracing. The encrypted password is never recorded.
type TracingTenantDatabaseRepository struct {
	next   domain.TenantDatabaseRepository
	tracer trace.Tracer
}

// Compile-time check: TracingTenantDatabaseRepository implements domain.TenantDatabaseRepository.
var _ domain.TenantDatabaseRepository = (*TracingTenantDatabaseRepository)(nil)

func NewTracingTenantDatabaseRepository(next domain.TenantDatabaseRepository) *TracingTenantDatabaseRepository {
	return &TracingTenantDatabaseRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func (r *TracingTenantDatabaseRepository) Get(ctx context.Context, tenantID string) (domain.TenantDatabase, error) {
	ctx, span := r.tracer.Start(ctx, "TenantDatabaseRepository.Get",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	db, err := r.next.Get(ctx, tenantID)
	recordError(span, err)
	return db, err
}

func (r *TracingTenantDatabaseRepository) Upsert(ctx context.Context, db domain.TenantDatabase) error {
	ctx, span := r.tracer.Start(ctx, "TenantDatabaseRepository.Upsert",
		trace.WithAttributes(
			attribute.String("tenant.id", db.TenantID),
			attribute.String("db.name", db.Name),
			attribute.String("db.status", string(db.Status)),
		),
	)
	defer span.End()

	err := r.next.Upsert(ctx, db)
	recordError(span, err)
	return err
}

func (r *TracingTenantDatabaseRepository) CompletedSteps(ctx context.Context, tenantID string) (map[domain.ProvisioningStep]time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "TenantDatabaseRepository.CompletedSteps",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	steps, err := r.next.CompletedSteps(ctx, tenantID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(steps)))
	}
	return steps, err
}

func (r *TracingTenantDatabaseRepository) RecordStep(ctx context.Context, tenantID string, step domain.ProvisioningStep, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "TenantDatabaseRepository.RecordStep",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("provisioning.step", string(step)),
		),
	)
	defer span.End()

	err := r.next.RecordStep(ctx, tenantID, step, at)
	recordError(span, err)
	return err
}

func (r *TracingTenantDatabaseRepository) ResetSteps(ctx context.Context, tenantID string) error {
	ctx, span := r.tracer.Start(ctx, "TenantDatabaseRepository.ResetSteps",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	err := r.next.ResetSteps(ctx, tenantID)
	recordError(span, err)
	return err
}
