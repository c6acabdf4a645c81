package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: SubscriptionRepository implements domain.SubscriptionRepository.
var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)

// SubscriptionRepository implements domain.SubscriptionRepository using SQLite.
// A partial unique index enforces one trial or active subscription per tenant.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository returns a repository over a migrated database.
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, tenant_id, plan_id, status, amount, currency, starts_at, ends_at,
	payment_method, cancelled_at, metadata, created_at, updated_at`

var errLiveConflict = &domain.ConflictError{Entity: "subscription", Reason: "tenant already has an active subscription"}

func (r *SubscriptionRepository) Create(ctx context.Context, s domain.Subscription) error {
	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.PlanID, string(s.Status), s.Amount, s.Currency,
		formatTime(s.StartsAt), nullTime(s.EndsAt), s.PaymentMethod, nullTime(s.CancelledAt),
		meta, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errLiveConflict
		}
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return s, err
}

func (r *SubscriptionRepository) Live(ctx context.Context, tenantID string) (domain.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ? AND status IN ('trial', 'active')`, tenantID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return s, err
}

func (r *SubscriptionRepository) List(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	var where []string
	var args []any

	if filter.TenantID != "" {
		where = append(where, `tenant_id = ?`)
		args = append(args, filter.TenantID)
	}
	if filter.Status != nil {
		where = append(where, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.LiveOnly {
		where = append(where, `status IN ('trial', 'active')`)
	}
	if filter.EndsBefore != nil {
		where = append(where, `ends_at IS NOT NULL AND ends_at <= ?`)
		args = append(args, formatTime(*filter.EndsBefore))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	query += ` ORDER BY created_at DESC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) Update(ctx context.Context, s domain.Subscription) error {
	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET plan_id = ?, status = ?, amount = ?, currency = ?,
		   starts_at = ?, ends_at = ?, payment_method = ?, cancelled_at = ?,
		   metadata = ?, updated_at = ?
		 WHERE id = ?`,
		s.PlanID, string(s.Status), s.Amount, s.Currency,
		formatTime(s.StartsAt), nullTime(s.EndsAt), s.PaymentMethod, nullTime(s.CancelledAt),
		meta, formatTime(s.UpdatedAt), s.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errLiveConflict
		}
		return fmt.Errorf("updating subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func scanSubscription(row scanner) (domain.Subscription, error) {
	var s domain.Subscription
	var status, meta, startsAt, createdAt, updatedAt string
	var endsAt, cancelledAt sql.NullString

	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &status, &s.Amount, &s.Currency,
		&startsAt, &endsAt, &s.PaymentMethod, &cancelledAt, &meta, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, err
		}
		return domain.Subscription{}, fmt.Errorf("scanning subscription: %w", err)
	}

	s.Metadata, err = decodeMetadata(meta)
	if err != nil {
		return domain.Subscription{}, err
	}
	s.Status = domain.SubscriptionStatus(status)
	s.StartsAt = parseTime(startsAt)
	s.EndsAt = parseNullTime(endsAt)
	s.CancelledAt = parseNullTime(cancelledAt)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}
