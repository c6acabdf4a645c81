package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	adapter "github.com/neomorfeo/tenantops/internal/adapter/otel"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// --- Test tracer setup ---

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

// --- Mock repositories ---

type mockTenantRepo struct {
	tenants map[string]domain.Tenant
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{tenants: make(map[string]domain.Tenant)}
}

func (m *mockTenantRepo) Create(_ context.Context, t domain.Tenant) error {
	m.tenants[t.ID] = t
	return nil
}

func (m *mockTenantRepo) GetByID(_ context.Context, id string) (domain.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) List(_ context.Context, _ domain.TenantFilter) ([]domain.Tenant, error) {
	out := make([]domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTenantRepo) Update(_ context.Context, t domain.Tenant) error {
	if _, ok := m.tenants[t.ID]; !ok {
		return domain.ErrTenantNotFound
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *mockTenantRepo) CompareAndSetDatabaseStatus(_ context.Context, id string, from []domain.ProvisioningStatus, to domain.ProvisioningStatus) (bool, error) {
	t, ok := m.tenants[id]
	if !ok {
		return false, domain.ErrTenantNotFound
	}
	for _, s := range from {
		if t.DatabaseStatus == s {
			t.DatabaseStatus = to
			m.tenants[id] = t
			return true, nil
		}
	}
	return false, nil
}

type mockSubscriptionRepo struct {
	live map[string]domain.Subscription
}

func (m *mockSubscriptionRepo) Create(_ context.Context, s domain.Subscription) error {
	m.live[s.TenantID] = s
	return nil
}

func (m *mockSubscriptionRepo) GetByID(_ context.Context, id string) (domain.Subscription, error) {
	for _, s := range m.live {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Subscription{}, domain.ErrSubscriptionNotFound
}

func (m *mockSubscriptionRepo) Live(_ context.Context, tenantID string) (domain.Subscription, error) {
	s, ok := m.live[tenantID]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return s, nil
}

func (m *mockSubscriptionRepo) List(_ context.Context, _ domain.SubscriptionFilter) ([]domain.Subscription, error) {
	out := make([]domain.Subscription, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSubscriptionRepo) Update(_ context.Context, s domain.Subscription) error {
	m.live[s.TenantID] = s
	return nil
}

type mockPaymentRepo struct {
	payment domain.Payment
}

func (m *mockPaymentRepo) Create(_ context.Context, p domain.Payment) error {
	m.payment = p
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, _ string) (domain.Payment, error) {
	return m.payment, nil
}

func (m *mockPaymentRepo) List(_ context.Context, _ domain.PaymentFilter) ([]domain.Payment, error) {
	return []domain.Payment{m.payment}, nil
}

func (m *mockPaymentRepo) AttachProof(_ context.Context, p domain.Payment) (bool, error) {
	return m.payment.Status == domain.PaymentPending, nil
}

func (m *mockPaymentRepo) Resolve(_ context.Context, p domain.Payment) (bool, error) {
	if m.payment.Status != domain.PaymentPending {
		return false, nil
	}
	m.payment = p
	return true, nil
}

type mockPlanRepo struct {
	plans map[string]domain.Plan
}

func (m *mockPlanRepo) Create(_ context.Context, p domain.Plan) error {
	m.plans[p.ID] = p
	return nil
}

func (m *mockPlanRepo) GetByID(_ context.Context, id string) (domain.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return p, nil
}

func (m *mockPlanRepo) List(_ context.Context, activeOnly bool) ([]domain.Plan, error) {
	var out []domain.Plan
	for _, p := range m.plans {
		if !activeOnly || p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPlanRepo) Update(_ context.Context, p domain.Plan) error {
	m.plans[p.ID] = p
	return nil
}

type mockTenantDatabaseRepo struct {
	records map[string]domain.TenantDatabase
	steps   map[domain.ProvisioningStep]time.Time
}

func (m *mockTenantDatabaseRepo) Get(_ context.Context, tenantID string) (domain.TenantDatabase, error) {
	d, ok := m.records[tenantID]
	if !ok {
		return domain.TenantDatabase{}, domain.ErrTenantDatabaseNotFound
	}
	return d, nil
}

func (m *mockTenantDatabaseRepo) Upsert(_ context.Context, d domain.TenantDatabase) error {
	m.records[d.TenantID] = d
	return nil
}

func (m *mockTenantDatabaseRepo) CompletedSteps(_ context.Context, _ string) (map[domain.ProvisioningStep]time.Time, error) {
	return m.steps, nil
}

func (m *mockTenantDatabaseRepo) RecordStep(_ context.Context, _ string, step domain.ProvisioningStep, at time.Time) error {
	m.steps[step] = at
	return nil
}

func (m *mockTenantDatabaseRepo) ResetSteps(_ context.Context, _ string) error {
	clear(m.steps)
	return nil
}

// --- Tests ---

func TestTracingTenantRepository_Create_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingTenantRepository(newMockTenantRepo())

	tenant := domain.NewTenant("t-1", "Acme", "ops@acme.test", "acme")
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "TenantRepository.Create" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "TenantRepository.Create")
	}

	assertAttribute(t, spans[0], "tenant.id", "t-1")
	assertAttribute(t, spans[0], "tenant.subdomain", "acme")
}

func TestTracingTenantRepository_GetByID_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingTenantRepository(newMockTenantRepo())

	_, err := repo.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestTracingTenantRepository_List_RecordsResultCount(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockTenantRepo()
	repo := adapter.NewTracingTenantRepository(inner)

	inner.tenants["t-1"] = domain.NewTenant("t-1", "A", "a@a.test", "a")
	inner.tenants["t-2"] = domain.NewTenant("t-2", "B", "b@b.test", "b")

	status := domain.TenantPending
	tenants, err := repo.List(context.Background(), domain.TenantFilter{Status: &status})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tenants) != 2 {
		t.Errorf("got %d tenants, want 2", len(tenants))
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	assertAttribute(t, spans[0], "result.count", "2")
	assertAttribute(t, spans[0], "filter.status", "pending")
}

func TestTracingTenantRepository_Update_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockTenantRepo()
	repo := adapter.NewTracingTenantRepository(inner)

	tenant := domain.NewTenant("t-1", "Acme", "ops@acme.test", "acme")
	inner.tenants["t-1"] = tenant

	tenant.Status = domain.TenantApproved
	if err := repo.Update(context.Background(), tenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	assertAttribute(t, spans[0], "tenant.status", "approved")
}

func TestTracingTenantRepository_CompareAndSet_RecordsOutcome(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockTenantRepo()
	repo := adapter.NewTracingTenantRepository(inner)
	inner.tenants["t-1"] = domain.NewTenant("t-1", "Acme", "ops@acme.test", "acme")

	ok, err := repo.CompareAndSetDatabaseStatus(context.Background(), "t-1",
		[]domain.ProvisioningStatus{domain.ProvisioningPending}, domain.ProvisioningInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected swap")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	assertAttribute(t, spans[0], "database.status.to", "provisioning")
	assertAttribute(t, spans[0], "result.swapped", "true")
}

func TestTracingSubscriptionRepository_Live_NotFoundIsNotAnError(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingSubscriptionRepository(&mockSubscriptionRepo{live: map[string]domain.Subscription{}})

	_, err := repo.Live(context.Background(), "t-1")
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("missing live subscription should not mark the span as failed")
	}
	assertAttribute(t, spans[0], "tenant.id", "t-1")
}

func TestTracingPaymentRepository_Resolve_RecordsSwap(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockPaymentRepo{payment: domain.Payment{
		ID:     "p-1",
		Amount: decimal.RequireFromString("10.00"),
		Status: domain.PaymentPending,
	}}
	repo := adapter.NewTracingPaymentRepository(inner)

	approved := inner.payment
	approved.Status = domain.PaymentApproved

	first, _ := repo.Resolve(context.Background(), approved)
	second, _ := repo.Resolve(context.Background(), approved)
	if !first || second {
		t.Fatalf("Resolve = %v then %v, want true then false", first, second)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	assertAttribute(t, spans[0], "payment.status", "approved")
	assertAttribute(t, spans[0], "result.swapped", "true")
	assertAttribute(t, spans[1], "result.swapped", "false")
}

func TestTracingPlanRepository_List_RecordsResultCount(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingPlanRepository(&mockPlanRepo{plans: map[string]domain.Plan{
		"basic": {ID: "basic", Active: true},
		"old":   {ID: "old"},
	}})

	plans, err := repo.List(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "PlanRepository.List" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	assertAttribute(t, spans[0], "filter.active_only", "true")
	assertAttribute(t, spans[0], "result.count", "1")
}

func TestTracingPlanRepository_GetByID_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingPlanRepository(&mockPlanRepo{plans: map[string]domain.Plan{}})

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("want one failed span, got %+v", spans)
	}
	assertAttribute(t, spans[0], "plan.id", "missing")
}

func TestTracingTenantDatabaseRepository_Upsert_OmitsPassword(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockTenantDatabaseRepo{
		records: map[string]domain.TenantDatabase{},
		steps:   map[domain.ProvisioningStep]time.Time{},
	}
	repo := adapter.NewTracingTenantDatabaseRepository(inner)
	ctx := context.Background()

	record := domain.TenantDatabase{
		TenantID:          "t-1",
		Name:              "tenant_t1",
		EncryptedPassword: "ciphertext",
		Status:            domain.TenantDatabaseAuto,
	}
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.RecordStep(ctx, "t-1", domain.StepDatabaseCreated, time.Now()); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	steps, err := repo.CompletedSteps(ctx, "t-1")
	if err != nil || len(steps) != 1 {
		t.Fatalf("CompletedSteps = %v, %v", steps, err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	if spans[0].Name != "TenantDatabaseRepository.Upsert" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	assertAttribute(t, spans[0], "db.name", "tenant_t1")
	assertAttribute(t, spans[0], "db.status", "auto")
	for _, attr := range spans[0].Attributes {
		if attr.Value.Emit() == "ciphertext" {
			t.Errorf("encrypted password leaked into attribute %q", attr.Key)
		}
	}
	assertAttribute(t, spans[1], "provisioning.step", "database_created")
	assertAttribute(t, spans[2], "result.count", "1")
}

// assertAttribute checks that a span has an attribute with the given key and string value.
func assertAttribute(t *testing.T, span tracetest.SpanStub, key, want string) {
	t.Helper()
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			got := attr.Value.Emit()
			if got != want {
				t.Errorf("attribute %q = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found on span %q", key, span.Name)
}
