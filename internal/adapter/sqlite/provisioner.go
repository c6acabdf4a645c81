package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/tenantschema"
)

// Compile-time check: FileProvisioner implements domain.DatabaseProvisioner.
var _ domain.DatabaseProvisioner = (*FileProvisioner)(nil)

// FileProvisioner gives every tenant its own SQLite file under a data
// directory. SQLite has no roles, so only the database name of the
// credentials is used.
type FileProvisioner struct {
	dir string
}

// NewFileProvisioner creates the data directory if needed.
func NewFileProvisioner(dir string) (*FileProvisioner, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating tenant data dir: %w", err)
	}
	return &FileProvisioner{dir: dir}, nil
}

// Path returns the file backing a tenant database.
func (p *FileProvisioner) Path(database string) (string, error) {
	if database == "" || strings.ContainsAny(database, `/\`) || !filepath.IsLocal(database) {
		return "", fmt.Errorf("invalid database name %q", database)
	}
	return filepath.Join(p.dir, database+".db"), nil
}

// CreateDatabase creates the file if it does not exist yet.
func (p *FileProvisioner) CreateDatabase(ctx context.Context, creds domain.DatabaseCredentials) error {
	path, err := p.Path(creds.Database)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	// The file only materializes on the first write.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// TestConnection fails when the file is missing or unreadable.
func (p *FileProvisioner) TestConnection(ctx context.Context, creds domain.DatabaseCredentials) error {
	db, err := p.open(creds)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("querying tenant database: %w", err)
	}
	return nil
}

func (p *FileProvisioner) Migrate(ctx context.Context, creds domain.DatabaseCredentials) error {
	db, err := p.open(creds)
	if err != nil {
		return err
	}
	defer db.Close()

	return tenantschema.Migrate(ctx, db, tenantschema.SQLite)
}

func (p *FileProvisioner) Seed(ctx context.Context, creds domain.DatabaseCredentials, seed domain.TenantSeed) error {
	db, err := p.open(creds)
	if err != nil {
		return err
	}
	defer db.Close()

	return tenantschema.Seed(ctx, db, tenantschema.SQLite, seed)
}

// open connects to an existing tenant file. sql.Open would silently create
// a missing one.
func (p *FileProvisioner) open(creds domain.DatabaseCredentials) (*sql.DB, error) {
	path, err := p.Path(creds.Database)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("tenant database %s does not exist", creds.Database)
		}
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return db, nil
}
