package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// TenantDatabaseResponse is the API representation of a tenant database.
// The password is always masked.
type TenantDatabaseResponse struct {
	TenantID       string  `json:"tenant_id" doc:"Owning tenant"`
	Host           string  `json:"host" doc:"Database host"`
	Port           int     `json:"port" doc:"Database port"`
	Name           string  `json:"name" doc:"Database name"`
	Username       string  `json:"username" doc:"Database user"`
	Password       string  `json:"password" doc:"Always masked"`
	Status         string  `json:"status" doc:"How the database was provisioned" enum:"auto,manual,failed"`
	ProvisionedAt  *string `json:"provisioned_at,omitempty" doc:"Provisioning completion timestamp (RFC 3339)"`
	LastVerifiedAt *string `json:"last_verified_at,omitempty" doc:"Last successful connection test (RFC 3339)"`
	UpdatedAt      string  `json:"updated_at" doc:"Last update timestamp (RFC 3339)"`
}

func toTenantDatabaseResponse(d domain.TenantDatabase) TenantDatabaseResponse {
	d = d.Masked()
	return TenantDatabaseResponse{
		TenantID:       d.TenantID,
		Host:           d.Host,
		Port:           d.Port,
		Name:           d.Name,
		Username:       d.Username,
		Password:       d.EncryptedPassword,
		Status:         string(d.Status),
		ProvisionedAt:  formatOptionalTime(d.ProvisionedAt),
		LastVerifiedAt: formatOptionalTime(d.LastVerifiedAt),
		UpdatedAt:      formatTime(d.UpdatedAt),
	}
}

type ProvisioningTenantInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
}

type ManualProvisionInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
	Body     struct {
		Host     string `json:"host" minLength:"1" maxLength:"253" doc:"Database host"`
		Port     int    `json:"port" minimum:"1" maximum:"65535" doc:"Database port"`
		Database string `json:"database" minLength:"1" maxLength:"63" doc:"Database name"`
		Username string `json:"username" minLength:"1" maxLength:"63" doc:"Database user"`
		Password string `json:"password" minLength:"1" doc:"Database password, stored encrypted"`
	}
}

type TenantDatabaseOutput struct {
	Body TenantDatabaseResponse
}

type MigrateTenantsInput struct {
	Body *struct {
		TenantID string `json:"tenant_id,omitempty" doc:"Only migrate this tenant; every provisioned tenant when empty"`
		Seed     bool   `json:"seed,omitempty" doc:"Re-apply the initial data after migrating"`
	} `required:"false"`
}

type MigrateTenantsOutput struct {
	Body struct {
		Migrated []string `json:"migrated" doc:"Tenants whose database is at the latest schema"`
		Failed   []string `json:"failed" doc:"Tenants whose upgrade failed"`
		Error    string   `json:"error,omitempty" doc:"Failure causes, one per failed tenant"`
	}
}

func registerProvisioning(api huma.API, svc *app.ProvisioningService) {
	tags := []string{"Provisioning"}

	huma.Register(api, huma.Operation{
		OperationID: "auto-provision",
		Method:      http.MethodPost,
		Path:        "/api/v1/provisioning/{tenantId}/auto",
		Summary:     "Create and prepare the tenant database",
		Description: "Runs the provisioning steps in order. A failed attempt can be retried and resumes after the last completed step.",
		Tags:        tags,
	}, func(ctx context.Context, input *ProvisioningTenantInput) (*TenantOutput, error) {
		tenant, err := svc.AutoProvision(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manual-provision",
		Method:      http.MethodPost,
		Path:        "/api/v1/provisioning/{tenantId}/manual",
		Summary:     "Attach an operator-supplied database",
		Tags:        tags,
	}, func(ctx context.Context, input *ManualProvisionInput) (*TenantOutput, error) {
		tenant, err := svc.ManualProvision(ctx, input.TenantID, domain.ConnectionDescriptor{
			Host:     input.Body.Host,
			Port:     input.Body.Port,
			Database: input.Body.Database,
			Username: input.Body.Username,
			Password: input.Body.Password,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "migrate-tenant-databases",
		Method:      http.MethodPost,
		Path:        "/api/v1/provisioning/migrate",
		Summary:     "Upgrade provisioned tenant databases to the latest schema",
		Description: "Runs pending tenant schema migrations, optionally followed by the seed. A failing tenant is reported and does not stop the others.",
		Tags:        tags,
	}, func(ctx context.Context, input *MigrateTenantsInput) (*MigrateTenantsOutput, error) {
		var tenantID string
		var seed bool
		if input.Body != nil {
			tenantID, seed = input.Body.TenantID, input.Body.Seed
		}

		result, err := svc.MigrateTenants(ctx, tenantID, seed)
		if err != nil && len(result.Failed) == 0 {
			return nil, toHumaError(err)
		}

		out := &MigrateTenantsOutput{}
		out.Body.Migrated = nonNil(result.Migrated)
		out.Body.Failed = nonNil(result.Failed)
		if err != nil {
			out.Body.Error = err.Error()
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-tenant-database",
		Method:      http.MethodPost,
		Path:        "/api/v1/provisioning/{tenantId}/test",
		Summary:     "Test the connection to the tenant database",
		Tags:        tags,
	}, func(ctx context.Context, input *ProvisioningTenantInput) (*TenantDatabaseOutput, error) {
		record, err := svc.TestConnection(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantDatabaseOutput{Body: toTenantDatabaseResponse(record)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant-database",
		Method:      http.MethodGet,
		Path:        "/api/v1/provisioning/{tenantId}",
		Summary:     "Get the tenant database connection details",
		Tags:        tags,
	}, func(ctx context.Context, input *ProvisioningTenantInput) (*TenantDatabaseOutput, error) {
		record, err := svc.Database(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantDatabaseOutput{Body: toTenantDatabaseResponse(record)}, nil
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
