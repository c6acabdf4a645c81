package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func newTenantDatabaseRepo(t *testing.T) *sqlite.TenantDatabaseRepository {
	t.Helper()
	db := newTestDB(t)
	mustCreateTenant(t, sqlite.NewTenantRepository(db), "t-1", "acme")
	return sqlite.NewTenantDatabaseRepository(db)
}

func TestTenantDatabaseRepository_Upsert(t *testing.T) {
	repo := newTenantDatabaseRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "t-1"); !errors.Is(err, domain.ErrTenantDatabaseNotFound) {
		t.Fatalf("expected ErrTenantDatabaseNotFound, got %v", err)
	}

	record := domain.TenantDatabase{
		TenantID:          "t-1",
		Host:              "db.internal",
		Port:              5432,
		Name:              domain.DatabaseName("t-1"),
		Username:          domain.DatabaseOwner("t-1"),
		EncryptedPassword: "tdb:v1:abc",
		Status:            domain.TenantDatabaseAuto,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	later := testNow.Add(time.Minute)
	record.Status = domain.TenantDatabaseFailed
	record.LastVerifiedAt = &later
	record.CreatedAt = later
	record.UpdatedAt = later
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := repo.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.TenantDatabaseFailed || got.EncryptedPassword != "tdb:v1:abc" {
		t.Errorf("got %+v", got)
	}
	if !got.Verified() || !got.LastVerifiedAt.Equal(later) {
		t.Errorf("LastVerifiedAt = %v, want %v", got.LastVerifiedAt, later)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, upsert must keep the original", got.CreatedAt)
	}
	if got.ProvisionedAt != nil {
		t.Errorf("ProvisionedAt = %v, want nil", got.ProvisionedAt)
	}
}

func TestTenantDatabaseRepository_Steps(t *testing.T) {
	repo := newTenantDatabaseRepo(t)
	ctx := context.Background()

	if err := repo.RecordStep(ctx, "t-1", domain.StepCredentialsAllocated, testNow); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}
	if err := repo.RecordStep(ctx, "t-1", domain.StepDatabaseCreated, testNow); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}
	// Re-recording a step overwrites its time.
	later := testNow.Add(time.Second)
	if err := repo.RecordStep(ctx, "t-1", domain.StepDatabaseCreated, later); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}

	steps, err := repo.CompletedSteps(ctx, "t-1")
	if err != nil {
		t.Fatalf("CompletedSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(steps))
	}
	if !steps[domain.StepDatabaseCreated].Equal(later) {
		t.Errorf("database_created = %v, want %v", steps[domain.StepDatabaseCreated], later)
	}

	if err := repo.ResetSteps(ctx, "t-1"); err != nil {
		t.Fatalf("ResetSteps failed: %v", err)
	}
	steps, _ = repo.CompletedSteps(ctx, "t-1")
	if len(steps) != 0 {
		t.Errorf("steps after reset = %v, want none", steps)
	}
}
