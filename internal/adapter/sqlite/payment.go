package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: PaymentRepository implements domain.PaymentRepository.
var _ domain.PaymentRepository = (*PaymentRepository)(nil)

// PaymentRepository implements domain.PaymentRepository using SQLite.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository returns a repository over a migrated database.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, subscription_id, tenant_id, amount, currency, method, status,
	proof_key, gateway_reference, approved_by, approved_at, rejected_at,
	metadata, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, p domain.Payment) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SubscriptionID, p.TenantID, p.Amount, p.Currency, p.Method, string(p.Status),
		p.ProofKey, p.GatewayReference, p.ApprovedBy, nullTime(p.ApprovedAt), nullTime(p.RejectedAt),
		meta, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.SubscriptionID != "" {
		where = append(where, `subscription_id = ?`)
		args = append(args, filter.SubscriptionID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	// Oldest first: the pending filter is a work queue.
	query += ` ORDER BY created_at`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// AttachProof stores the proof key and metadata while the payment is pending.
func (r *PaymentRepository) AttachProof(ctx context.Context, p domain.Payment) (bool, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE payments SET proof_key = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		p.ProofKey, meta, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return false, fmt.Errorf("attaching proof: %w", err)
	}
	return affectedOne(result)
}

// Resolve writes the terminal status only while the payment is pending, so
// exactly one of several concurrent approvals or rejections wins.
func (r *PaymentRepository) Resolve(ctx context.Context, p domain.Payment) (bool, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, approved_by = ?, approved_at = ?, rejected_at = ?,
		   metadata = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(p.Status), p.ApprovedBy, nullTime(p.ApprovedAt), nullTime(p.RejectedAt),
		meta, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return false, fmt.Errorf("resolving payment: %w", err)
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanPayment(row scanner) (domain.Payment, error) {
	var p domain.Payment
	var status, meta, createdAt, updatedAt string
	var approvedAt, rejectedAt sql.NullString

	err := row.Scan(&p.ID, &p.SubscriptionID, &p.TenantID, &p.Amount, &p.Currency, &p.Method, &status,
		&p.ProofKey, &p.GatewayReference, &p.ApprovedBy, &approvedAt, &rejectedAt,
		&meta, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, err
		}
		return domain.Payment{}, fmt.Errorf("scanning payment: %w", err)
	}

	p.Metadata, err = decodeMetadata(meta)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.ApprovedAt = parseNullTime(approvedAt)
	p.RejectedAt = parseNullTime(rejectedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
