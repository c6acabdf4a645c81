// Package postgres provisions tenant databases on a PostgreSQL server: one
// database per tenant, owned by a dedicated login role.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/tenantschema"
)

// Compile-time check: Provisioner implements domain.DatabaseProvisioner.
var _ domain.DatabaseProvisioner = (*Provisioner)(nil)

// Provisioner creates roles and databases through an administrative pool
// and connects to tenant databases with the tenant's own credentials.
type Provisioner struct {
	admin   *pgxpool.Pool
	sslMode string
}

// NewProvisioner connects the admin pool. The caller closes it with Close.
func NewProvisioner(ctx context.Context, adminURL, sslMode string) (*Provisioner, error) {
	pool, err := pgxpool.New(ctx, adminURL)
	if err != nil {
		return nil, fmt.Errorf("connecting admin pool: %w", err)
	}
	return &Provisioner{admin: pool, sslMode: sslMode}, nil
}

// Close releases the admin pool.
func (p *Provisioner) Close() {
	p.admin.Close()
}

// CreateDatabase creates the owner role and the database. Both are
// skipped when they already exist; an existing role gets its password
// reset so it matches the stored credentials.
func (p *Provisioner) CreateDatabase(ctx context.Context, creds domain.DatabaseCredentials) error {
	role := pgx.Identifier{creds.Username}.Sanitize()
	database := pgx.Identifier{creds.Database}.Sanitize()

	var exists bool
	if err := p.admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, creds.Username,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking role: %w", err)
	}

	// DDL cannot take bind parameters.
	stmt := fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD %s`, role, quoteLiteral(creds.Password))
	if exists {
		stmt = fmt.Sprintf(`ALTER ROLE %s WITH LOGIN PASSWORD %s`, role, quoteLiteral(creds.Password))
	}
	if _, err := p.admin.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating role %s: %w", creds.Username, err)
	}

	if err := p.admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, creds.Database,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking database: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := p.admin.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, database, role)); err != nil {
		return fmt.Errorf("creating database %s: %w", creds.Database, err)
	}
	return nil
}

// TestConnection connects with the tenant credentials and pings.
func (p *Provisioner) TestConnection(ctx context.Context, creds domain.DatabaseCredentials) error {
	cfg, err := p.connConfig(creds)
	if err != nil {
		return err
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	return conn.Ping(ctx)
}

func (p *Provisioner) Migrate(ctx context.Context, creds domain.DatabaseCredentials) error {
	db, err := p.open(creds)
	if err != nil {
		return err
	}
	defer db.Close()

	return tenantschema.Migrate(ctx, db, tenantschema.Postgres)
}

func (p *Provisioner) Seed(ctx context.Context, creds domain.DatabaseCredentials, seed domain.TenantSeed) error {
	db, err := p.open(creds)
	if err != nil {
		return err
	}
	defer db.Close()

	return tenantschema.Seed(ctx, db, tenantschema.Postgres, seed)
}

func (p *Provisioner) open(creds domain.DatabaseCredentials) (*sql.DB, error) {
	cfg, err := p.connConfig(creds)
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*cfg), nil
}

func (p *Provisioner) connConfig(creds domain.DatabaseCredentials) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(ConnString(creds, p.sslMode))
	if err != nil {
		// The parse error can echo the connection string.
		return nil, fmt.Errorf("invalid connection details for %s/%s", creds.Address(), creds.Database)
	}
	return cfg, nil
}

// ConnString builds a postgres:// URL for the tenant credentials.
func ConnString(creds domain.DatabaseCredentials, sslMode string) string {
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port)),
		Path:     "/" + creds.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// quoteLiteral renders s as a standard-conforming SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
