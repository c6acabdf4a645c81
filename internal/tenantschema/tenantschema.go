// Package tenantschema holds the schema every tenant database is migrated
// to, and the initial data written into it. The SQL is portable between
// SQLite and PostgreSQL.
package tenantschema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/tenantops/internal/domain"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Supported dialects.
const (
	SQLite   = goose.DialectSQLite3
	Postgres = goose.DialectPostgres
)

// OwnerRole is the role given to the seeded owner account.
const OwnerRole = "owner"

// Migrate brings the tenant database to the latest schema version.
// It uses a goose provider rather than goose's package-level state so that
// several tenants can be migrated concurrently.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return fmt.Errorf("opening tenant migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrating tenant schema: %w", err)
	}
	return nil
}

// Seed writes the tenant profile, the owner account and default settings.
// Rows that already exist are left alone, so Seed can run again after a
// partial failure.
func Seed(ctx context.Context, db *sql.DB, dialect goose.Dialect, seed domain.TenantSeed) error {
	now := time.Now().UTC().Format(time.RFC3339)

	stmts := []struct {
		query string
		args  []any
	}{
		{
			`INSERT INTO tenant_profile (id, name, subdomain, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			[]any{seed.TenantID, seed.Name, seed.Subdomain, now},
		},
		{
			`INSERT INTO users (id, email, role, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			[]any{OwnerID(seed.TenantID), seed.OwnerEmail, OwnerRole, now},
		},
		{
			`INSERT INTO settings (setting_key, setting_value) VALUES (?, ?), (?, ?) ON CONFLICT DO NOTHING`,
			[]any{"timezone", "UTC", "locale", "en"},
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning seed: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, bind(dialect, stmt.query), stmt.args...); err != nil {
			return fmt.Errorf("seeding tenant database: %w", err)
		}
	}
	return tx.Commit()
}

// OwnerID is the stable id of a tenant's seeded owner account.
func OwnerID(tenantID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tenantops:owner:"+tenantID)).String()
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func bind(dialect goose.Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
