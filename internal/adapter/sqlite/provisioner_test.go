package sqlite_test

import (
	"context"
	"os"
	"testing"

	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestFileProvisioner_FullRun(t *testing.T) {
	p, err := sqlite.NewFileProvisioner(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileProvisioner failed: %v", err)
	}
	ctx := context.Background()
	creds := domain.DatabaseCredentials{Database: domain.DatabaseName("t-1"), Username: domain.DatabaseOwner("t-1")}
	seed := domain.TenantSeed{TenantID: "t-1", Name: "Acme", Subdomain: "acme", OwnerEmail: "o@acme.test"}

	if err := p.TestConnection(ctx, creds); err == nil {
		t.Fatal("TestConnection should fail before the database exists")
	}

	// Every step twice: a retry repeats already-completed work.
	for range 2 {
		if err := p.CreateDatabase(ctx, creds); err != nil {
			t.Fatalf("CreateDatabase failed: %v", err)
		}
		if err := p.TestConnection(ctx, creds); err != nil {
			t.Fatalf("TestConnection failed: %v", err)
		}
		if err := p.Migrate(ctx, creds); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		if err := p.Seed(ctx, creds, seed); err != nil {
			t.Fatalf("Seed failed: %v", err)
		}
	}

	path, _ := p.Path(creds.Database)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("tenant file missing: %v", err)
	}
}

func TestFileProvisioner_RejectsPathNames(t *testing.T) {
	p, err := sqlite.NewFileProvisioner(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileProvisioner failed: %v", err)
	}

	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		if err := p.CreateDatabase(context.Background(), domain.DatabaseCredentials{Database: name}); err == nil {
			t.Errorf("CreateDatabase(%q) should fail", name)
		}
	}
}
