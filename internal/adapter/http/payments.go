package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// PaymentResponse is the API representation of a payment.
type PaymentResponse struct {
	ID               string         `json:"id" doc:"Unique identifier"`
	SubscriptionID   string         `json:"subscription_id" doc:"Subscription being paid"`
	TenantID         string         `json:"tenant_id" doc:"Owning tenant"`
	Amount           string         `json:"amount" doc:"Amount" example:"29.00"`
	Currency         string         `json:"currency" doc:"ISO 4217 currency code"`
	Method           string         `json:"method" doc:"offline or a gateway name"`
	Status           string         `json:"status" doc:"Payment state" enum:"pending,approved,rejected"`
	HasProof         bool           `json:"has_proof" doc:"Whether a proof document is attached"`
	GatewayReference string         `json:"gateway_reference,omitempty" doc:"Reference assigned by the gateway"`
	ApprovedBy       string         `json:"approved_by,omitempty" doc:"Approving operator or gateway"`
	ApprovedAt       *string        `json:"approved_at,omitempty" doc:"Approval timestamp (RFC 3339)"`
	RejectedAt       *string        `json:"rejected_at,omitempty" doc:"Rejection timestamp (RFC 3339)"`
	Metadata         map[string]any `json:"metadata,omitempty" doc:"Notes, rejection reason and proof details"`
	CreatedAt        string         `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
}

func toPaymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID,
		SubscriptionID:   p.SubscriptionID,
		TenantID:         p.TenantID,
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Method:           p.Method,
		Status:           string(p.Status),
		HasProof:         p.ProofKey != "",
		GatewayReference: p.GatewayReference,
		ApprovedBy:       p.ApprovedBy,
		ApprovedAt:       formatOptionalTime(p.ApprovedAt),
		RejectedAt:       formatOptionalTime(p.RejectedAt),
		Metadata:         p.Metadata,
		CreatedAt:        formatTime(p.CreatedAt),
	}
}

// ApprovalResponse reports an approved payment and the activation it drove.
type ApprovalResponse struct {
	Payment         PaymentResponse       `json:"payment"`
	Subscription    *SubscriptionResponse `json:"subscription,omitempty"`
	Tenant          *TenantResponse       `json:"tenant,omitempty"`
	TenantActivated bool                  `json:"tenant_activated" doc:"Whether the approval activated the tenant"`
	ActivationError string                `json:"activation_error,omitempty" doc:"Why activation did not complete; the approval stands"`
}

func toApprovalResponse(r app.ApprovalResult) ApprovalResponse {
	resp := ApprovalResponse{
		Payment:         toPaymentResponse(r.Payment),
		TenantActivated: r.TenantActivated,
	}
	if r.Subscription != nil {
		s := toSubscriptionResponse(*r.Subscription)
		resp.Subscription = &s
	}
	if r.Tenant != nil {
		t := toTenantResponse(*r.Tenant)
		resp.Tenant = &t
	}
	if r.ActivationError != nil {
		resp.ActivationError = r.ActivationError.Error()
	}
	return resp
}

type SubmitPaymentInput struct {
	Body struct {
		SubscriptionID   string `json:"subscription_id" minLength:"1" doc:"Subscription being paid"`
		Method           string `json:"method" minLength:"1" maxLength:"40" doc:"offline or a gateway name" example:"offline"`
		Amount           string `json:"amount,omitempty" pattern:"^\\d+(\\.\\d{1,2})?$" doc:"Amount; the subscription amount when omitted"`
		Currency         string `json:"currency,omitempty" minLength:"3" maxLength:"3" doc:"Currency; the subscription currency when omitted"`
		GatewayReference string `json:"gateway_reference,omitempty" maxLength:"255" doc:"Reference assigned by the gateway"`
	}
}

type PaymentIDInput struct {
	ID string `path:"id" doc:"Payment ID"`
}

type ListPaymentsInput struct {
	Status         string `query:"status" required:"false" enum:"pending,approved,rejected" doc:"Filter by status; pending lists the approval queue"`
	SubscriptionID string `query:"subscription_id" required:"false" doc:"Filter by subscription"`
	PageQuery
}

type ProofForm struct {
	File huma.FormFile `form:"file" required:"true" doc:"PNG, JPEG or PDF, at most 5 MiB"`
}

type UploadProofInput struct {
	ID      string `path:"id" doc:"Payment ID"`
	RawBody huma.MultipartFormFiles[ProofForm]
}

type ApprovePaymentInput struct {
	ID string `path:"id" doc:"Payment ID"`
	OperatorHeader
	Body *struct {
		Notes string `json:"notes,omitempty" maxLength:"1000" doc:"Approval notes"`
	} `required:"false"`
}

type RejectPaymentInput struct {
	ID   string `path:"id" doc:"Payment ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1" maxLength:"1000" doc:"Rejection reason"`
	}
}

type PaymentOutput struct {
	Body PaymentResponse
}

type ListPaymentsOutput struct {
	Body []PaymentResponse
}

type ApprovalOutput struct {
	Body ApprovalResponse
}

func registerPayments(api huma.API, svc *app.PaymentService) {
	tags := []string{"Payments"}

	huma.Register(api, huma.Operation{
		OperationID:   "submit-payment",
		Method:        http.MethodPost,
		Path:          "/api/v1/payments",
		Summary:       "Submit a payment for a subscription",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *SubmitPaymentInput) (*PaymentOutput, error) {
		in := app.NewPayment{
			SubscriptionID:   input.Body.SubscriptionID,
			Method:           input.Body.Method,
			Currency:         input.Body.Currency,
			GatewayReference: input.Body.GatewayReference,
		}
		if input.Body.Amount != "" {
			amount, err := parseAmount("amount", input.Body.Amount)
			if err != nil {
				return nil, toHumaError(err)
			}
			in.Amount = &amount
		}

		payment, err := svc.Submit(ctx, in)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PaymentOutput{Body: toPaymentResponse(payment)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/api/v1/payments",
		Summary:     "List payments, oldest first",
		Tags:        tags,
	}, func(ctx context.Context, input *ListPaymentsInput) (*ListPaymentsOutput, error) {
		filter := domain.PaymentFilter{
			SubscriptionID: input.SubscriptionID,
			Limit:          input.Limit,
			Offset:         input.Offset,
		}
		if input.Status != "" {
			s := domain.PaymentStatus(input.Status)
			filter.Status = &s
		}

		payments, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]PaymentResponse, len(payments))
		for i, p := range payments {
			resp[i] = toPaymentResponse(p)
		}
		return &ListPaymentsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/api/v1/payments/{id}",
		Summary:     "Get a payment by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *PaymentIDInput) (*PaymentOutput, error) {
		payment, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PaymentOutput{Body: toPaymentResponse(payment)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "upload-payment-proof",
		Method:       http.MethodPost,
		Path:         "/api/v1/payments/{id}/proof",
		Summary:      "Attach a proof document to an offline payment",
		Tags:         tags,
		MaxBodyBytes: app.MaxProofSize + 64<<10,
	}, func(ctx context.Context, input *UploadProofInput) (*PaymentOutput, error) {
		file := input.RawBody.Data().File
		defer file.Close()

		payment, err := svc.AttachProof(ctx, input.ID, file.Filename, file)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PaymentOutput{Body: toPaymentResponse(payment)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-payment",
		Method:      http.MethodPost,
		Path:        "/api/v1/payments/{id}/approve",
		Summary:     "Approve a pending payment",
		Description: "Approves the payment, then activates or renews its subscription and activates the tenant when it is ready. Activation problems are reported without undoing the approval.",
		Tags:        tags,
	}, func(ctx context.Context, input *ApprovePaymentInput) (*ApprovalOutput, error) {
		var notes string
		if input.Body != nil {
			notes = input.Body.Notes
		}
		result, err := svc.Approve(ctx, input.ID, input.OperatorID, notes)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ApprovalOutput{Body: toApprovalResponse(result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-payment",
		Method:      http.MethodPost,
		Path:        "/api/v1/payments/{id}/reject",
		Summary:     "Reject a pending payment",
		Tags:        tags,
	}, func(ctx context.Context, input *RejectPaymentInput) (*PaymentOutput, error) {
		payment, err := svc.Reject(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PaymentOutput{Body: toPaymentResponse(payment)}, nil
	})
}
