package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: TenantRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TenantRepository)(nil)

// TenantRepository implements domain.TenantRepository using SQLite.
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository returns a repository over a migrated database.
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, email, subdomain, status, database_status,
	approved_at, approved_by, metadata, created_at, updated_at`

func (r *TenantRepository) Create(ctx context.Context, t domain.Tenant) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Email, t.Subdomain, string(t.Status), string(t.DatabaseStatus),
		nullTime(t.ApprovedAt), t.ApprovedBy, meta,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "tenant", Reason: fmt.Sprintf("subdomain %q is already in use", t.Subdomain)}
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return t, err
}

func (r *TenantRepository) List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.DatabaseStatus != nil {
		where = append(where, `database_status = ?`)
		args = append(args, string(*filter.DatabaseStatus))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	query += ` ORDER BY created_at DESC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// Update writes everything but the database status.
func (r *TenantRepository) Update(ctx context.Context, t domain.Tenant) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, email = ?, subdomain = ?, status = ?,
		   approved_at = ?, approved_by = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.Email, t.Subdomain, string(t.Status),
		nullTime(t.ApprovedAt), t.ApprovedBy, meta, formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "tenant", Reason: fmt.Sprintf("subdomain %q is already in use", t.Subdomain)}
		}
		return fmt.Errorf("updating tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}

// CompareAndSetDatabaseStatus moves the database status to `to` only while
// it is one of `from`. It reports whether the row changed.
func (r *TenantRepository) CompareAndSetDatabaseStatus(ctx context.Context, id string, from []domain.ProvisioningStatus, to domain.ProvisioningStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	args := []any{string(to), formatTime(time.Now()), id}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET database_status = ?, updated_at = ?
		 WHERE id = ? AND database_status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("updating database status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM tenants WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrTenantNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checking tenant: %w", err)
	}
	return false, nil
}

func scanTenant(row scanner) (domain.Tenant, error) {
	var t domain.Tenant
	var status, dbStatus, meta, createdAt, updatedAt string
	var approvedAt sql.NullString

	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Subdomain, &status, &dbStatus,
		&approvedAt, &t.ApprovedBy, &meta, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tenant{}, err
		}
		return domain.Tenant{}, fmt.Errorf("scanning tenant: %w", err)
	}

	t.Metadata, err = decodeMetadata(meta)
	if err != nil {
		return domain.Tenant{}, err
	}
	t.Status = domain.TenantStatus(status)
	t.DatabaseStatus = domain.ProvisioningStatus(dbStatus)
	t.ApprovedAt = parseNullTime(approvedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	return t, nil
}
