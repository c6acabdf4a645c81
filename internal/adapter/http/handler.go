package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// Services groups the application services exposed over HTTP.
type Services struct {
	Tenants       *app.TenantService
	Provisioning  *app.ProvisioningService
	Plans         *app.PlanService
	Subscriptions *app.SubscriptionService
	Payments      *app.PaymentService
}

// Options configures the optional parts of the API.
type Options struct {
	// StripeWebhookSecret enables the Stripe webhook when set.
	StripeWebhookSecret string
	Logger              *slog.Logger
}

// Register adds all API routes to the Huma API.
func Register(api huma.API, svc Services, opts Options) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	registerTenants(api, svc.Tenants)
	registerProvisioning(api, svc.Provisioning)
	registerPlans(api, svc.Plans)
	registerSubscriptions(api, svc.Subscriptions)
	registerPayments(api, svc.Payments)
	if opts.StripeWebhookSecret != "" {
		registerStripeWebhook(api, svc.Payments, opts.StripeWebhookSecret, opts.Logger)
	}
}

// OperatorHeader carries the identity of the operator performing an
// approval. Authentication happens upstream of this service.
type OperatorHeader struct {
	OperatorID string `header:"X-Operator-ID" doc:"Identity of the operator performing the action"`
}

// PageQuery holds the pagination parameters shared by list operations.
type PageQuery struct {
	Limit  int `query:"limit" required:"false" default:"50" minimum:"1" maximum:"500" doc:"Max results"`
	Offset int `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		return huma.Error404NotFound("tenant not found")
	case errors.Is(err, domain.ErrPlanNotFound):
		return huma.Error404NotFound("plan not found")
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return huma.Error404NotFound("subscription not found")
	case errors.Is(err, domain.ErrPaymentNotFound):
		return huma.Error404NotFound("payment not found")
	case errors.Is(err, domain.ErrTenantDatabaseNotFound):
		return huma.Error404NotFound("tenant database not found")
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error(), &huma.ErrorDetail{
			Message:  valErr.Message,
			Location: valErr.Field,
		})
	}

	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		return huma.Error409Conflict(conflictErr.Error())
	}

	var (
		stateErr    *domain.InvalidStateError
		alreadyErr  *domain.AlreadyInStateError
		pendingErr  *domain.NotPendingError
		terminalErr *domain.TerminalStateError
	)
	switch {
	case errors.As(err, &stateErr):
		return huma.Error409Conflict(stateErr.Error())
	case errors.As(err, &alreadyErr):
		return huma.Error409Conflict(alreadyErr.Error())
	case errors.As(err, &pendingErr):
		return huma.Error409Conflict(pendingErr.Error())
	case errors.As(err, &terminalErr):
		return huma.Error409Conflict(terminalErr.Error())
	}

	var (
		noSubErr    *domain.NoActiveSubscriptionError
		notReadyErr *domain.DatabaseNotReadyError
	)
	switch {
	case errors.As(err, &noSubErr):
		return huma.Error422UnprocessableEntity(noSubErr.Error())
	case errors.As(err, &notReadyErr):
		return huma.Error422UnprocessableEntity(notReadyErr.Error())
	}

	var disabledErr *domain.FeatureDisabledError
	if errors.As(err, &disabledErr) {
		return huma.Error403Forbidden(disabledErr.Error())
	}

	var connErr *domain.ConnectionTestFailedError
	if errors.As(err, &connErr) {
		return huma.Error502BadGateway(connErr.Error())
	}

	var provErr *domain.ProvisioningError
	if errors.As(err, &provErr) {
		return huma.Error500InternalServerError(provErr.Error(), &huma.ErrorDetail{
			Message:  "provisioning stopped",
			Location: string(provErr.Step),
		})
	}

	return huma.Error500InternalServerError("internal server error")
}
