package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: PlanRepository implements domain.PlanRepository.
var _ domain.PlanRepository = (*PlanRepository)(nil)

// PlanRepository implements domain.PlanRepository using SQLite.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository returns a repository over a migrated database.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, price, currency, billing_cycle, trial_days, active, created_at, updated_at`

func (r *PlanRepository) Create(ctx context.Context, p domain.Plan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price, p.Currency, string(p.BillingCycle), p.TrialDays, p.Active,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "plan", Reason: fmt.Sprintf("id %q is already in use", p.ID)}
		}
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (domain.Plan, error) {
	p, err := scanPlan(r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return p, err
}

func (r *PlanRepository) List(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) Update(ctx context.Context, p domain.Plan) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE plans SET name = ?, price = ?, currency = ?, billing_cycle = ?,
		   trial_days = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Price, p.Currency, string(p.BillingCycle),
		p.TrialDays, p.Active, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

func scanPlan(row scanner) (domain.Plan, error) {
	var p domain.Plan
	var cycle, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &cycle, &p.TrialDays, &p.Active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Plan{}, err
		}
		return domain.Plan{}, fmt.Errorf("scanning plan: %w", err)
	}

	p.BillingCycle = domain.BillingCycle(cycle)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
