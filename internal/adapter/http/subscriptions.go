package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// SubscriptionResponse is the API representation of a subscription.
type SubscriptionResponse struct {
	ID            string         `json:"id" doc:"Unique identifier"`
	TenantID      string         `json:"tenant_id" doc:"Owning tenant"`
	PlanID        string         `json:"plan_id" doc:"Current plan"`
	Status        string         `json:"status" doc:"Lifecycle state" enum:"trial,active,cancelled"`
	Amount        string         `json:"amount" doc:"Amount captured from the plan" example:"29.00"`
	Currency      string         `json:"currency" doc:"ISO 4217 currency code"`
	StartsAt      string         `json:"starts_at" doc:"Period start (RFC 3339)"`
	EndsAt        *string        `json:"ends_at,omitempty" doc:"Period end (RFC 3339); absent for lifetime plans"`
	PaymentMethod string         `json:"payment_method,omitempty" doc:"Preferred payment method"`
	CancelledAt   *string        `json:"cancelled_at,omitempty" doc:"Cancellation timestamp (RFC 3339)"`
	Metadata      map[string]any `json:"metadata,omitempty" doc:"Cancellation flags and scheduled plan changes"`
	CreatedAt     string         `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
}

func toSubscriptionResponse(s domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:            s.ID,
		TenantID:      s.TenantID,
		PlanID:        s.PlanID,
		Status:        string(s.Status),
		Amount:        s.Amount.StringFixed(2),
		Currency:      s.Currency,
		StartsAt:      formatTime(s.StartsAt),
		EndsAt:        formatOptionalTime(s.EndsAt),
		PaymentMethod: s.PaymentMethod,
		CancelledAt:   formatOptionalTime(s.CancelledAt),
		Metadata:      s.Metadata,
		CreatedAt:     formatTime(s.CreatedAt),
	}
}

type CreateSubscriptionInput struct {
	Body struct {
		TenantID      string     `json:"tenant_id" minLength:"1" doc:"Tenant to subscribe"`
		PlanID        string     `json:"plan_id,omitempty" doc:"Plan; the configured default plan when omitted"`
		Status        string     `json:"status" enum:"trial,active" doc:"Initial status"`
		StartsAt      *time.Time `json:"starts_at,omitempty" doc:"Period start; now when omitted"`
		EndsAt        *time.Time `json:"ends_at,omitempty" doc:"Period end; derived from the trial length or billing cycle when omitted"`
		PaymentMethod string     `json:"payment_method,omitempty" maxLength:"40" doc:"Preferred payment method"`
	}
}

type SubscriptionIDInput struct {
	ID string `path:"id" doc:"Subscription ID"`
}

type ListSubscriptionsInput struct {
	TenantID string `query:"tenant_id" required:"false" doc:"Filter by tenant"`
	Status   string `query:"status" required:"false" enum:"trial,active,cancelled" doc:"Filter by status"`
	PageQuery
}

type CancelSubscriptionInput struct {
	ID   string `path:"id" doc:"Subscription ID"`
	Body struct {
		Immediate bool   `json:"immediate,omitempty" doc:"Cancel now instead of at the end of the period"`
		Reason    string `json:"reason,omitempty" maxLength:"1000" doc:"Cancellation reason"`
	}
}

type ChangePlanInput struct {
	ID   string `path:"id" doc:"Subscription ID"`
	Body struct {
		PlanID    string `json:"plan_id" minLength:"1" doc:"New plan"`
		Immediate bool   `json:"immediate,omitempty" doc:"Switch now instead of at the end of the period"`
	}
}

type SubscriptionOutput struct {
	Body SubscriptionResponse
}

type ListSubscriptionsOutput struct {
	Body []SubscriptionResponse
}

func registerSubscriptions(api huma.API, svc *app.SubscriptionService) {
	tags := []string{"Subscriptions"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-subscription",
		Method:        http.MethodPost,
		Path:          "/api/v1/subscriptions",
		Summary:       "Subscribe a tenant to a plan",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSubscriptionInput) (*SubscriptionOutput, error) {
		in := app.NewSubscription{
			TenantID:      input.Body.TenantID,
			PlanID:        input.Body.PlanID,
			Status:        domain.SubscriptionStatus(input.Body.Status),
			EndsAt:        input.Body.EndsAt,
			PaymentMethod: input.Body.PaymentMethod,
		}
		if input.Body.StartsAt != nil {
			in.StartsAt = *input.Body.StartsAt
		}

		sub, err := svc.Create(ctx, in)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subscriptions",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions",
		Summary:     "List subscriptions",
		Tags:        tags,
	}, func(ctx context.Context, input *ListSubscriptionsInput) (*ListSubscriptionsOutput, error) {
		filter := domain.SubscriptionFilter{
			TenantID: input.TenantID,
			Limit:    input.Limit,
			Offset:   input.Offset,
		}
		if input.Status != "" {
			s := domain.SubscriptionStatus(input.Status)
			filter.Status = &s
		}

		subs, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]SubscriptionResponse, len(subs))
		for i, s := range subs {
			resp[i] = toSubscriptionResponse(s)
		}
		return &ListSubscriptionsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subscription",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}",
		Summary:     "Get a subscription by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *SubscriptionIDInput) (*SubscriptionOutput, error) {
		sub, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/cancel",
		Summary:     "Cancel a subscription now or at the end of the period",
		Tags:        tags,
	}, func(ctx context.Context, input *CancelSubscriptionInput) (*SubscriptionOutput, error) {
		sub, err := svc.Cancel(ctx, input.ID, input.Body.Immediate, input.Body.Reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "renew-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/renew",
		Summary:     "Extend a subscription by one billing cycle",
		Tags:        tags,
	}, func(ctx context.Context, input *SubscriptionIDInput) (*SubscriptionOutput, error) {
		sub, err := svc.Renew(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-subscription-plan",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/change-plan",
		Summary:     "Change the plan now or at the end of the period",
		Tags:        tags,
	}, func(ctx context.Context, input *ChangePlanInput) (*SubscriptionOutput, error) {
		sub, err := svc.ChangePlan(ctx, input.ID, input.Body.PlanID, input.Body.Immediate)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})
}
