package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID             string         `json:"id" doc:"Unique identifier"`
	Name           string         `json:"name" doc:"Display name"`
	Email          string         `json:"email" doc:"Contact email"`
	Subdomain      string         `json:"subdomain" doc:"Unique subdomain"`
	Status         string         `json:"status" doc:"Lifecycle state"`
	DatabaseStatus string         `json:"database_status" doc:"Provisioning state of the tenant database"`
	ApprovedAt     *string        `json:"approved_at,omitempty" doc:"Approval timestamp (RFC 3339)"`
	ApprovedBy     string         `json:"approved_by,omitempty" doc:"Approving operator"`
	Metadata       map[string]any `json:"metadata,omitempty" doc:"Free-form metadata"`
	CreatedAt      string         `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt      string         `json:"updated_at" doc:"Last update timestamp (RFC 3339)"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:             t.ID,
		Name:           t.Name,
		Email:          t.Email,
		Subdomain:      t.Subdomain,
		Status:         string(t.Status),
		DatabaseStatus: string(t.DatabaseStatus),
		ApprovedAt:     formatOptionalTime(t.ApprovedAt),
		ApprovedBy:     t.ApprovedBy,
		Metadata:       t.Metadata,
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
	}
}

// --- Register Tenant ---

type RegisterTenantInput struct {
	Body struct {
		Name      string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Email     string `json:"email" format:"email" maxLength:"255" doc:"Contact email"`
		Subdomain string `json:"subdomain" minLength:"3" maxLength:"63" pattern:"^[a-z0-9]+(?:-[a-z0-9]+)*$" doc:"Unique subdomain (lowercase, hyphens)"`
	}
}

type TenantOutput struct {
	Body TenantResponse
}

// --- Get Tenant ---

type TenantIDInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

// --- List Tenants ---

type ListTenantsInput struct {
	Status         string `query:"status" required:"false" enum:"pending,approved,active,suspended,cancelled" doc:"Filter by lifecycle state"`
	DatabaseStatus string `query:"database_status" required:"false" enum:"pending,provisioning,provisioned,failed,manual" doc:"Filter by provisioning state; failed lists the retry queue"`
	PageQuery
}

type ListTenantsOutput struct {
	Body []TenantResponse
}

// --- Transitions ---

type ApproveTenantInput struct {
	ID string `path:"id" doc:"Tenant ID"`
	OperatorHeader
}

type ReasonInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1" maxLength:"1000" doc:"Reason recorded in the tenant metadata"`
	}
}

type CancelTenantInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Body *struct {
		Reason string `json:"reason,omitempty" maxLength:"1000" doc:"Optional cancellation reason"`
	} `required:"false"`
}

func registerTenants(api huma.API, svc *app.TenantService) {
	tags := []string{"Tenants"}

	huma.Register(api, huma.Operation{
		OperationID:   "register-tenant",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants",
		Summary:       "Register a new tenant",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *RegisterTenantInput) (*TenantOutput, error) {
		tenant, err := svc.Register(ctx, input.Body.Name, input.Body.Email, input.Body.Subdomain)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants",
		Summary:     "List tenants",
		Tags:        tags,
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.TenantFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.TenantStatus(input.Status)
			filter.Status = &s
		}
		if input.DatabaseStatus != "" {
			s := domain.ProvisioningStatus(input.DatabaseStatus)
			filter.DatabaseStatus = &s
		}

		tenants, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]TenantResponse, len(tenants))
		for i, t := range tenants {
			resp[i] = toTenantResponse(t)
		}
		return &ListTenantsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/approve",
		Summary:     "Approve a pending tenant",
		Description: "Moves a pending tenant to approved. Approval alone does not activate it: the tenant becomes active once it has a live subscription and a provisioned database, through payment approval, auto-provisioning or an explicit activate call.",
		Tags:        tags,
	}, func(ctx context.Context, input *ApproveTenantInput) (*TenantOutput, error) {
		tenant, err := svc.Approve(ctx, input.ID, input.OperatorID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/reject",
		Summary:     "Reject a pending tenant",
		Tags:        tags,
	}, func(ctx context.Context, input *ReasonInput) (*TenantOutput, error) {
		tenant, err := svc.Reject(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/suspend",
		Summary:     "Suspend an approved or active tenant",
		Tags:        tags,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Suspend(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/activate",
		Summary:     "Reactivate a suspended tenant",
		Tags:        tags,
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Reactivate(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/cancel",
		Summary:     "Cancel a tenant permanently",
		Tags:        tags,
	}, func(ctx context.Context, input *CancelTenantInput) (*TenantOutput, error) {
		var reason string
		if input.Body != nil {
			reason = input.Body.Reason
		}
		tenant, err := svc.Cancel(ctx, input.ID, reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})
}
