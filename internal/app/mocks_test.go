package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// --- Mocks ---

type mockTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{tenants: make(map[string]domain.Tenant)}
}

func (m *mockTenantRepo) Create(_ context.Context, t domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Subdomain == t.Subdomain {
			return &domain.ConflictError{Entity: "tenant", Reason: "subdomain is already in use"}
		}
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *mockTenantRepo) GetByID(_ context.Context, id string) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	t.Metadata = t.Metadata.Clone()
	return t, nil
}

func (m *mockTenantRepo) List(_ context.Context, f domain.TenantFilter) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.DatabaseStatus != nil && t.DatabaseStatus != *f.DatabaseStatus {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTenantRepo) Update(_ context.Context, t domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tenants[t.ID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.DatabaseStatus = stored.DatabaseStatus
	m.tenants[t.ID] = t
	return nil
}

func (m *mockTenantRepo) CompareAndSetDatabaseStatus(_ context.Context, id string, from []domain.ProvisioningStatus, to domain.ProvisioningStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false, domain.ErrTenantNotFound
	}
	if !slices.Contains(from, t.DatabaseStatus) {
		return false, nil
	}
	t.DatabaseStatus = to
	m.tenants[id] = t
	return true, nil
}

// set overwrites a tenant directly, bypassing the service rules.
func (m *mockTenantRepo) set(t domain.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

type mockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]domain.Plan
}

func newMockPlanRepo() *mockPlanRepo {
	return &mockPlanRepo{plans: make(map[string]domain.Plan)}
}

func (m *mockPlanRepo) Create(_ context.Context, p domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}

func (m *mockPlanRepo) GetByID(_ context.Context, id string) (domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return p, nil
}

func (m *mockPlanRepo) List(_ context.Context, activeOnly bool) ([]domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Plan
	for _, p := range m.plans {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPlanRepo) Update(_ context.Context, p domain.Plan) error {
	return m.Create(context.Background(), p)
}

type mockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func newMockSubscriptionRepo() *mockSubscriptionRepo {
	return &mockSubscriptionRepo{subs: make(map[string]domain.Subscription)}
}

// checkLive mirrors the partial unique index on live subscriptions.
func (m *mockSubscriptionRepo) checkLive(s domain.Subscription) error {
	if !s.Status.Live() {
		return nil
	}
	for _, other := range m.subs {
		if other.ID != s.ID && other.TenantID == s.TenantID && other.Status.Live() {
			return &domain.ConflictError{Entity: "subscription", Reason: "tenant already has an active subscription"}
		}
	}
	return nil
}

func (m *mockSubscriptionRepo) Create(_ context.Context, s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLive(s); err != nil {
		return err
	}
	m.subs[s.ID] = s
	return nil
}

func (m *mockSubscriptionRepo) GetByID(_ context.Context, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	s.Metadata = s.Metadata.Clone()
	return s, nil
}

func (m *mockSubscriptionRepo) Live(_ context.Context, tenantID string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.Status.Live() {
			s.Metadata = s.Metadata.Clone()
			return s, nil
		}
	}
	return domain.Subscription{}, domain.ErrSubscriptionNotFound
}

func (m *mockSubscriptionRepo) List(_ context.Context, f domain.SubscriptionFilter) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.subs {
		if f.TenantID != "" && s.TenantID != f.TenantID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.LiveOnly && !s.Status.Live() {
			continue
		}
		if f.EndsBefore != nil && (s.EndsAt == nil || s.EndsAt.After(*f.EndsBefore)) {
			continue
		}
		s.Metadata = s.Metadata.Clone()
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSubscriptionRepo) Update(_ context.Context, s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return domain.ErrSubscriptionNotFound
	}
	if err := m.checkLive(s); err != nil {
		return err
	}
	m.subs[s.ID] = s
	return nil
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[string]domain.Payment)}
}

func (m *mockPaymentRepo) Create(_ context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id string) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	p.Metadata = p.Metadata.Clone()
	return p, nil
}

func (m *mockPaymentRepo) List(_ context.Context, f domain.PaymentFilter) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.SubscriptionID != "" && p.SubscriptionID != f.SubscriptionID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPaymentRepo) AttachProof(_ context.Context, p domain.Payment) (bool, error) {
	return m.casPending(p), nil
}

func (m *mockPaymentRepo) Resolve(_ context.Context, p domain.Payment) (bool, error) {
	return m.casPending(p), nil
}

func (m *mockPaymentRepo) casPending(p domain.Payment) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.Status != domain.PaymentPending {
		return false
	}
	m.payments[p.ID] = p
	return true
}

type mockDatabaseRepo struct {
	mu      sync.Mutex
	records map[string]domain.TenantDatabase
	steps   map[string]map[domain.ProvisioningStep]time.Time
}

func newMockDatabaseRepo() *mockDatabaseRepo {
	return &mockDatabaseRepo{
		records: make(map[string]domain.TenantDatabase),
		steps:   make(map[string]map[domain.ProvisioningStep]time.Time),
	}
}

func (m *mockDatabaseRepo) Get(_ context.Context, tenantID string) (domain.TenantDatabase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[tenantID]
	if !ok {
		return domain.TenantDatabase{}, domain.ErrTenantDatabaseNotFound
	}
	return r, nil
}

func (m *mockDatabaseRepo) Upsert(_ context.Context, r domain.TenantDatabase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.TenantID] = r
	return nil
}

func (m *mockDatabaseRepo) CompletedSteps(_ context.Context, tenantID string) (map[domain.ProvisioningStep]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.ProvisioningStep]time.Time)
	for k, v := range m.steps[tenantID] {
		out[k] = v
	}
	return out, nil
}

func (m *mockDatabaseRepo) RecordStep(_ context.Context, tenantID string, step domain.ProvisioningStep, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[tenantID] == nil {
		m.steps[tenantID] = make(map[domain.ProvisioningStep]time.Time)
	}
	m.steps[tenantID][step] = at
	return nil
}

func (m *mockDatabaseRepo) ResetSteps(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, tenantID)
	return nil
}

// mockProvisioner records calls and fails the configured operations.
type mockProvisioner struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	// failDB fails every operation against the named database.
	failDB   map[string]error
	creds    []domain.DatabaseCredentials
	seeds    []domain.TenantSeed
	migrated int
}

func newMockProvisioner() *mockProvisioner {
	return &mockProvisioner{failOn: make(map[string]error), failDB: make(map[string]error)}
}

func (m *mockProvisioner) record(op string, creds domain.DatabaseCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	m.creds = append(m.creds, creds)
	if err := m.failDB[creds.Database]; err != nil {
		return err
	}
	return m.failOn[op]
}

func (m *mockProvisioner) CreateDatabase(_ context.Context, c domain.DatabaseCredentials) error {
	return m.record("create", c)
}

func (m *mockProvisioner) TestConnection(_ context.Context, c domain.DatabaseCredentials) error {
	return m.record("test", c)
}

func (m *mockProvisioner) Migrate(_ context.Context, c domain.DatabaseCredentials) error {
	if err := m.record("migrate", c); err != nil {
		return err
	}
	m.mu.Lock()
	m.migrated++
	m.mu.Unlock()
	return nil
}

func (m *mockProvisioner) Seed(_ context.Context, c domain.DatabaseCredentials, seed domain.TenantSeed) error {
	if err := m.record("seed", c); err != nil {
		return err
	}
	m.mu.Lock()
	m.seeds = append(m.seeds, seed)
	m.mu.Unlock()
	return nil
}

func (m *mockProvisioner) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *mockProvisioner) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, op)
		return
	}
	m.failOn[op] = err
}

// mockSecretBox is reversible but never stores the plaintext as-is.
type mockSecretBox struct{}

func (mockSecretBox) Encrypt(p string) (string, error) {
	b := []byte(p)
	slices.Reverse(b)
	return "enc:" + string(b), nil
}

func (mockSecretBox) Decrypt(c string) (string, error) {
	if !strings.HasPrefix(c, "enc:") {
		return "", errors.New("not encrypted")
	}
	b := []byte(strings.TrimPrefix(c, "enc:"))
	slices.Reverse(b)
	return string(b), nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *mockPublisher) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *mockPublisher) has(t domain.EventType) bool {
	return slices.Contains(m.types(), t)
}

type mockBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: make(map[string][]byte)}
}

func (m *mockBlobStore) Put(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	return nil
}

func (m *mockBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// --- Harness ---

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	tenants     *mockTenantRepo
	plans       *mockPlanRepo
	subs        *mockSubscriptionRepo
	payments    *mockPaymentRepo
	databases   *mockDatabaseRepo
	provisioner *mockProvisioner
	publisher   *mockPublisher
	blobs       *mockBlobStore
	now         time.Time

	tenantSvc       *app.TenantService
	provisioningSvc *app.ProvisioningService
	subscriptionSvc *app.SubscriptionService
	planSvc         *app.PlanService
	paymentSvc      *app.PaymentService
}

func testSettings() config.Settings {
	return config.Settings{
		AutoProvisioning:    true,
		TrialDays:           14,
		GracePeriodDays:     7,
		TrialReminderWindow: 72 * time.Hour,
		TenantDB: config.TenantDBTemplate{
			Driver: config.DriverPostgres,
			Host:   "db.internal",
			Port:   5432,
		},
	}
}

func newHarness(t *testing.T, settings config.Settings) *harness {
	t.Helper()

	h := &harness{
		tenants:     newMockTenantRepo(),
		plans:       newMockPlanRepo(),
		subs:        newMockSubscriptionRepo(),
		payments:    newMockPaymentRepo(),
		databases:   newMockDatabaseRepo(),
		provisioner: newMockProvisioner(),
		publisher:   &mockPublisher{},
		blobs:       newMockBlobStore(),
		now:         testNow,
	}
	clock := app.WithClock(func() time.Time { return h.now })

	h.tenantSvc = app.NewTenantService(h.tenants, h.subs, h.publisher, fsm.NewTenant(), settings, clock)
	h.provisioningSvc = app.NewProvisioningService(h.tenants, h.subs, h.databases, h.provisioner,
		mockSecretBox{}, h.publisher, fsm.NewProvisioning(), h.tenantSvc, settings, clock)
	h.subscriptionSvc = app.NewSubscriptionService(h.subs, h.plans, h.tenants, h.publisher,
		fsm.NewSubscription(), h.tenantSvc, settings, clock)
	h.planSvc = app.NewPlanService(h.plans, clock)
	h.paymentSvc = app.NewPaymentService(h.payments, h.subs, h.tenants, h.blobs, h.publisher,
		fsm.NewPayment(), h.subscriptionSvc, h.tenantSvc, clock)
	return h
}

// registerApproved registers a tenant and approves it.
func (h *harness) registerApproved(t *testing.T, subdomain string) domain.Tenant {
	t.Helper()
	ctx := context.Background()
	tenant, err := h.tenantSvc.Register(ctx, "Acme "+subdomain, subdomain+"@example.com", subdomain)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tenant, err = h.tenantSvc.Approve(ctx, tenant.ID, "operator-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return tenant
}

func (h *harness) plan(t *testing.T, price string, cycle domain.BillingCycle) domain.Plan {
	t.Helper()
	p, err := h.planSvc.Create(context.Background(), app.NewPlan{
		Name:         "Plan " + price,
		Price:        decimal.RequireFromString(price),
		Currency:     "usd",
		BillingCycle: cycle,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

func (h *harness) subscribe(t *testing.T, tenantID, planID string, status domain.SubscriptionStatus) domain.Subscription {
	t.Helper()
	sub, err := h.subscriptionSvc.Create(context.Background(), app.NewSubscription{
		TenantID: tenantID,
		PlanID:   planID,
		Status:   status,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (h *harness) tenant(t *testing.T, id string) domain.Tenant {
	t.Helper()
	tenant, err := h.tenants.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	return tenant
}

// assertInvariants checks the cross-entity rules on every stored tenant.
func (h *harness) assertInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	tenants, _ := h.tenants.List(ctx, domain.TenantFilter{})
	for _, tenant := range tenants {
		live, _ := h.subs.List(ctx, domain.SubscriptionFilter{TenantID: tenant.ID, LiveOnly: true})
		if len(live) > 1 {
			t.Errorf("tenant %s has %d live subscriptions", tenant.ID, len(live))
		}
		if tenant.Status == domain.TenantActive {
			if len(live) == 0 {
				t.Errorf("tenant %s is active without a live subscription", tenant.ID)
			}
			if tenant.DatabaseStatus != domain.ProvisioningProvisioned {
				t.Errorf("tenant %s is active with database %s", tenant.ID, tenant.DatabaseStatus)
			}
		}
		if tenant.DatabaseStatus == domain.ProvisioningProvisioned {
			record, err := h.databases.Get(ctx, tenant.ID)
			if err != nil || !record.Verified() {
				t.Errorf("tenant %s is provisioned without a verified database record", tenant.ID)
			}
		}
	}
}
