package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// PlanResponse is the API representation of a billing plan.
type PlanResponse struct {
	ID           string `json:"id" doc:"Unique identifier"`
	Name         string `json:"name" doc:"Display name"`
	Price        string `json:"price" doc:"Price per billing cycle" example:"29.00"`
	Currency     string `json:"currency" doc:"ISO 4217 currency code"`
	BillingCycle string `json:"billing_cycle" doc:"Billing cycle" enum:"monthly,yearly,lifetime"`
	TrialDays    int    `json:"trial_days" doc:"Trial length in days"`
	Active       bool   `json:"active" doc:"Whether new subscriptions may use the plan"`
	CreatedAt    string `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
}

func toPlanResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price.StringFixed(2),
		Currency:     p.Currency,
		BillingCycle: string(p.BillingCycle),
		TrialDays:    p.TrialDays,
		Active:       p.Active,
		CreatedAt:    formatTime(p.CreatedAt),
	}
}

type CreatePlanInput struct {
	Body struct {
		Name         string `json:"name" minLength:"1" maxLength:"120" doc:"Display name"`
		Price        string `json:"price" pattern:"^\\d+(\\.\\d{1,2})?$" doc:"Price per billing cycle" example:"29.00"`
		Currency     string `json:"currency" minLength:"3" maxLength:"3" doc:"ISO 4217 currency code"`
		BillingCycle string `json:"billing_cycle" enum:"monthly,yearly,lifetime" doc:"Billing cycle"`
		TrialDays    int    `json:"trial_days,omitempty" minimum:"0" maximum:"365" doc:"Trial length in days"`
	}
}

type PlanIDInput struct {
	ID string `path:"id" doc:"Plan ID"`
}

type ListPlansInput struct {
	ActiveOnly bool `query:"active" required:"false" default:"false" doc:"Only list active plans"`
}

type PlanOutput struct {
	Body PlanResponse
}

type ListPlansOutput struct {
	Body []PlanResponse
}

// parseAmount reads a money amount, which travels as a decimal string.
func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &domain.ValidationError{Field: field, Message: "must be a decimal amount"}
	}
	return d, nil
}

func registerPlans(api huma.API, svc *app.PlanService) {
	tags := []string{"Plans"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/api/v1/plans",
		Summary:       "Create a billing plan",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreatePlanInput) (*PlanOutput, error) {
		price, err := parseAmount("price", input.Body.Price)
		if err != nil {
			return nil, toHumaError(err)
		}
		plan, err := svc.Create(ctx, app.NewPlan{
			Name:         input.Body.Name,
			Price:        price,
			Currency:     input.Body.Currency,
			BillingCycle: domain.BillingCycle(input.Body.BillingCycle),
			TrialDays:    input.Body.TrialDays,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PlanOutput{Body: toPlanResponse(plan)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/api/v1/plans",
		Summary:     "List billing plans",
		Tags:        tags,
	}, func(ctx context.Context, input *ListPlansInput) (*ListPlansOutput, error) {
		plans, err := svc.List(ctx, input.ActiveOnly)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]PlanResponse, len(plans))
		for i, p := range plans {
			resp[i] = toPlanResponse(p)
		}
		return &ListPlansOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/api/v1/plans/{id}",
		Summary:     "Get a plan by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *PlanIDInput) (*PlanOutput, error) {
		plan, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PlanOutput{Body: toPlanResponse(plan)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-plan",
		Method:      http.MethodPost,
		Path:        "/api/v1/plans/{id}/deactivate",
		Summary:     "Stop offering a plan to new subscriptions",
		Tags:        tags,
	}, func(ctx context.Context, input *PlanIDInput) (*PlanOutput, error) {
		plan, err := svc.Deactivate(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PlanOutput{Body: toPlanResponse(plan)}, nil
	})
}
