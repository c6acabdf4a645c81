package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// paymentIDKey is the Stripe metadata key that links a checkout session or
// payment intent to a payment.
const paymentIDKey = "payment_id"

type StripeWebhookInput struct {
	Signature string `header:"Stripe-Signature" required:"true" doc:"Stripe signature header"`
	RawBody   []byte
}

type WebhookOutput struct {
	Body struct {
		Received bool   `json:"received"`
		Handled  bool   `json:"handled" doc:"Whether the event changed a payment"`
		Status   string `json:"status,omitempty" doc:"Resulting payment status"`
	}
}

type stripeWebhook struct {
	payments *app.PaymentService
	secret   string
	logger   *slog.Logger
}

func registerStripeWebhook(api huma.API, svc *app.PaymentService, secret string, logger *slog.Logger) {
	h := &stripeWebhook{payments: svc, secret: secret, logger: logger}

	huma.Register(api, huma.Operation{
		OperationID: "stripe-webhook",
		Method:      http.MethodPost,
		Path:        "/api/v1/webhooks/stripe",
		Summary:     "Receive Stripe payment events",
		Tags:        []string{"Webhooks"},
	}, h.handle)
}

func (h *stripeWebhook) handle(ctx context.Context, input *StripeWebhookInput) (*WebhookOutput, error) {
	event, err := webhook.ConstructEventWithOptions(input.RawBody, input.Signature, h.secret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		h.logger.WarnContext(ctx, "stripe webhook: signature verification failed", slog.Any("error", err))
		return nil, huma.Error400BadRequest("invalid signature")
	}

	out := &WebhookOutput{}
	out.Body.Received = true

	outcome, ok, err := outcomeFromStripe(event)
	if err != nil {
		h.logger.WarnContext(ctx, "stripe webhook: malformed event",
			slog.String("event_id", event.ID), slog.String("type", string(event.Type)), slog.Any("error", err))
		return nil, huma.Error400BadRequest("malformed event payload")
	}
	if !ok {
		h.logger.DebugContext(ctx, "stripe webhook: ignoring event",
			slog.String("event_id", event.ID), slog.String("type", string(event.Type)))
		return out, nil
	}

	payment, err := h.payments.HandleGatewayOutcome(ctx, outcome)
	if err != nil {
		// Acknowledge events Stripe should not redeliver.
		var pendingErr *domain.NotPendingError
		if errors.Is(err, domain.ErrPaymentNotFound) || errors.As(err, &pendingErr) {
			h.logger.WarnContext(ctx, "stripe webhook: event not applied",
				slog.String("event_id", event.ID),
				slog.String("payment_id", outcome.PaymentID),
				slog.Any("error", err))
			return out, nil
		}
		h.logger.ErrorContext(ctx, "stripe webhook: applying event",
			slog.String("event_id", event.ID),
			slog.String("payment_id", outcome.PaymentID),
			slog.Any("error", err))
		return nil, toHumaError(err)
	}

	h.logger.InfoContext(ctx, "stripe webhook: payment updated",
		slog.String("event_id", event.ID),
		slog.String("payment_id", payment.ID),
		slog.String("status", string(payment.Status)))

	out.Body.Handled = true
	out.Body.Status = string(payment.Status)
	return out, nil
}

// outcomeFromStripe maps a verified Stripe event to a gateway outcome. It
// reports false for event types that do not settle a payment and for objects
// not linked to one.
func outcomeFromStripe(event stripe.Event) (app.GatewayOutcome, bool, error) {
	outcome := app.GatewayOutcome{
		Gateway:   "stripe",
		EventID:   event.ID,
		EventType: string(event.Type),
	}
	if event.Data == nil {
		return outcome, false, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return outcome, false, err
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return outcome, false, nil
		}
		outcome.PaymentID = session.Metadata[paymentIDKey]
		outcome.Reference = session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			outcome.Reference = session.PaymentIntent.ID
		}
		outcome.Succeeded = true

	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return outcome, false, err
		}
		outcome.PaymentID = intent.Metadata[paymentIDKey]
		outcome.Reference = intent.ID
		outcome.Succeeded = event.Type == stripe.EventTypePaymentIntentSucceeded
		if !outcome.Succeeded && intent.LastPaymentError != nil {
			outcome.Reason = intent.LastPaymentError.Msg
		}

	default:
		return outcome, false, nil
	}

	if outcome.PaymentID == "" {
		return outcome, false, nil
	}
	return outcome, true, nil
}
