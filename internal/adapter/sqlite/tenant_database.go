package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: TenantDatabaseRepository implements domain.TenantDatabaseRepository.
var _ domain.TenantDatabaseRepository = (*TenantDatabaseRepository)(nil)

// TenantDatabaseRepository stores tenant connection descriptors and the
// provisioning step log.
type TenantDatabaseRepository struct {
	db *sql.DB
}

// NewTenantDatabaseRepository returns a repository over a migrated database.
func NewTenantDatabaseRepository(db *sql.DB) *TenantDatabaseRepository {
	return &TenantDatabaseRepository{db: db}
}

func (r *TenantDatabaseRepository) Get(ctx context.Context, tenantID string) (domain.TenantDatabase, error) {
	var d domain.TenantDatabase
	var status, createdAt, updatedAt string
	var provisionedAt, lastVerifiedAt sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT tenant_id, host, port, name, username, encrypted_password, status,
		   provisioned_at, last_verified_at, created_at, updated_at
		 FROM tenant_databases WHERE tenant_id = ?`, tenantID,
	).Scan(&d.TenantID, &d.Host, &d.Port, &d.Name, &d.Username, &d.EncryptedPassword, &status,
		&provisionedAt, &lastVerifiedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TenantDatabase{}, domain.ErrTenantDatabaseNotFound
		}
		return domain.TenantDatabase{}, fmt.Errorf("scanning tenant database: %w", err)
	}

	d.Status = domain.TenantDatabaseStatus(status)
	d.ProvisionedAt = parseNullTime(provisionedAt)
	d.LastVerifiedAt = parseNullTime(lastVerifiedAt)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

// Upsert inserts the descriptor or replaces every column of the existing one
// except created_at.
func (r *TenantDatabaseRepository) Upsert(ctx context.Context, d domain.TenantDatabase) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenant_databases (tenant_id, host, port, name, username, encrypted_password,
		   status, provisioned_at, last_verified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   host = excluded.host,
		   port = excluded.port,
		   name = excluded.name,
		   username = excluded.username,
		   encrypted_password = excluded.encrypted_password,
		   status = excluded.status,
		   provisioned_at = excluded.provisioned_at,
		   last_verified_at = excluded.last_verified_at,
		   updated_at = excluded.updated_at`,
		d.TenantID, d.Host, d.Port, d.Name, d.Username, d.EncryptedPassword, string(d.Status),
		nullTime(d.ProvisionedAt), nullTime(d.LastVerifiedAt),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving tenant database: %w", err)
	}
	return nil
}

func (r *TenantDatabaseRepository) CompletedSteps(ctx context.Context, tenantID string) (map[domain.ProvisioningStep]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT step, completed_at FROM provisioning_steps WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing provisioning steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[domain.ProvisioningStep]time.Time)
	for rows.Next() {
		var step, completedAt string
		if err := rows.Scan(&step, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning provisioning step: %w", err)
		}
		steps[domain.ProvisioningStep(step)] = parseTime(completedAt)
	}
	return steps, rows.Err()
}

func (r *TenantDatabaseRepository) RecordStep(ctx context.Context, tenantID string, step domain.ProvisioningStep, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provisioning_steps (tenant_id, step, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, step) DO UPDATE SET completed_at = excluded.completed_at`,
		tenantID, string(step), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("recording provisioning step: %w", err)
	}
	return nil
}

func (r *TenantDatabaseRepository) ResetSteps(ctx context.Context, tenantID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM provisioning_steps WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("resetting provisioning steps: %w", err)
	}
	return nil
}
