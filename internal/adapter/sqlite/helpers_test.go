package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// newTestDB opens a migrated in-memory registry.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateTenant(t *testing.T, repo *sqlite.TenantRepository, id, subdomain string) domain.Tenant {
	t.Helper()
	tenant := domain.NewTenant(id, "Tenant "+id, subdomain+"@example.com", subdomain)
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return tenant
}

func mustCreatePlan(t *testing.T, repo *sqlite.PlanRepository, id, price string) domain.Plan {
	t.Helper()
	plan := domain.Plan{
		ID:           id,
		Name:         "Plan " + id,
		Price:        decimal.RequireFromString(price),
		Currency:     "USD",
		BillingCycle: domain.CycleMonthly,
		TrialDays:    14,
		Active:       true,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	if err := repo.Create(context.Background(), plan); err != nil {
		t.Fatalf("creating plan: %v", err)
	}
	return plan
}

func newSubscription(id, tenantID, planID string, status domain.SubscriptionStatus, endsAt *time.Time) domain.Subscription {
	return domain.Subscription{
		ID:            id,
		TenantID:      tenantID,
		PlanID:        planID,
		Status:        status,
		Amount:        decimal.RequireFromString("29.00"),
		Currency:      "USD",
		StartsAt:      testNow,
		EndsAt:        endsAt,
		PaymentMethod: domain.PaymentMethodOffline,
		Metadata:      domain.Metadata{},
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func ptr[T any](v T) *T { return &v }
