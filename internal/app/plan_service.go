package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// NewPlan is the input for PlanService.Create.
type NewPlan struct {
	Name         string `validate:"required,max=120"`
	Price        decimal.Decimal
	Currency     string              `validate:"required,len=3,alpha"`
	BillingCycle domain.BillingCycle `validate:"required,oneof=monthly yearly lifetime"`
	TrialDays    int                 `validate:"gte=0,lte=365"`
}

// PlanService manages billing plans. Plan edits never touch the captured
// amount of existing subscriptions.
type PlanService struct {
	repo domain.PlanRepository
	options
}

// NewPlanService creates a service with the given repository.
func NewPlanService(repo domain.PlanRepository, opts ...Option) *PlanService {
	return &PlanService{repo: repo, options: newOptions(opts)}
}

// Create adds an active plan.
func (s *PlanService) Create(ctx context.Context, in NewPlan) (domain.Plan, error) {
	if err := validateStruct(in); err != nil {
		return domain.Plan{}, err
	}
	if in.Price.IsNegative() {
		return domain.Plan{}, &domain.ValidationError{Field: "price", Message: "must not be negative"}
	}

	now := s.now()
	plan := domain.Plan{
		ID:           newID(),
		Name:         in.Name,
		Price:        in.Price,
		Currency:     strings.ToUpper(in.Currency),
		BillingCycle: in.BillingCycle,
		TrialDays:    in.TrialDays,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return domain.Plan{}, fmt.Errorf("creating plan: %w", err)
	}
	return plan, nil
}

// Get returns a plan by id.
func (s *PlanService) Get(ctx context.Context, id string) (domain.Plan, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns plans, optionally only the active ones.
func (s *PlanService) List(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.repo.List(ctx, activeOnly)
}

// Deactivate stops a plan from accepting new subscriptions.
func (s *PlanService) Deactivate(ctx context.Context, id string) (domain.Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if !plan.Active {
		return domain.Plan{}, &domain.AlreadyInStateError{Entity: "plan", Status: "inactive"}
	}

	plan.Active = false
	plan.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, plan); err != nil {
		return domain.Plan{}, fmt.Errorf("updating plan: %w", err)
	}
	return plan, nil
}
