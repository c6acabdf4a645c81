package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shopspring/decimal"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// MaxProofSize bounds an offline payment proof upload.
const MaxProofSize = 5 << 20

var proofTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
}

// SubscriptionActivator applies a confirmed payment to its subscription.
type SubscriptionActivator interface {
	ActivateFromPayment(ctx context.Context, subscriptionID string) (domain.Subscription, error)
}

// Compile-time check: SubscriptionService implements SubscriptionActivator.
var _ SubscriptionActivator = (*SubscriptionService)(nil)

// NewPayment is the input for PaymentService.Submit.
type NewPayment struct {
	SubscriptionID string `validate:"required"`
	Method         string `validate:"required,max=40"`
	// Amount and Currency default to the subscription's captured values.
	Amount           *decimal.Decimal
	Currency         string
	GatewayReference string
}

// GatewayOutcome is a verified payment result reported by a gateway.
type GatewayOutcome struct {
	Gateway   string
	EventID   string
	EventType string
	PaymentID string
	Reference string
	Succeeded bool
	Reason    string
}

// ApprovalResult reports an approval and what it drove downstream.
// ActivationError is set when the payment was approved but the subscription
// or tenant could not be moved forward; the approval stands regardless.
type ApprovalResult struct {
	Payment         domain.Payment
	Subscription    *domain.Subscription
	Tenant          *domain.Tenant
	TenantActivated bool
	ActivationError error
}

// PaymentService runs payment intake, the manual approval queue and the
// bridge from an approved payment to subscription and tenant activation.
type PaymentService struct {
	payments   domain.PaymentRepository
	subs       domain.SubscriptionRepository
	tenants    domain.TenantRepository
	blobs      domain.BlobStore
	publisher  domain.EventPublisher
	validator  domain.TransitionValidator[domain.PaymentStatus, domain.PaymentEvent]
	activator  SubscriptionActivator
	reconciler TenantReconciler
	options
}

// NewPaymentService creates a service with the given adapters.
func NewPaymentService(
	payments domain.PaymentRepository,
	subs domain.SubscriptionRepository,
	tenants domain.TenantRepository,
	blobs domain.BlobStore,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator[domain.PaymentStatus, domain.PaymentEvent],
	activator SubscriptionActivator,
	reconciler TenantReconciler,
	opts ...Option,
) *PaymentService {
	return &PaymentService{
		payments:   payments,
		subs:       subs,
		tenants:    tenants,
		blobs:      blobs,
		publisher:  publisher,
		validator:  validator,
		activator:  activator,
		reconciler: reconciler,
		options:    newOptions(opts),
	}
}

// Submit records a pending payment for a subscription.
func (s *PaymentService) Submit(ctx context.Context, in NewPayment) (domain.Payment, error) {
	if err := validateStruct(in); err != nil {
		return domain.Payment{}, err
	}

	sub, err := s.subs.GetByID(ctx, in.SubscriptionID)
	if err != nil {
		return domain.Payment{}, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return domain.Payment{}, &domain.TerminalStateError{Entity: "subscription", ID: sub.ID, Status: string(sub.Status)}
	}

	amount := sub.Amount
	if in.Amount != nil {
		amount = *in.Amount
	}
	if amount.IsNegative() {
		return domain.Payment{}, &domain.ValidationError{Field: "amount", Message: "must not be negative"}
	}
	currency := sub.Currency
	if in.Currency != "" {
		currency = in.Currency
	}

	now := s.now()
	payment := domain.Payment{
		ID:               newID(),
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Amount:           amount,
		Currency:         currency,
		Method:           in.Method,
		Status:           domain.PaymentPending,
		GatewayReference: in.GatewayReference,
		Metadata:         domain.Metadata{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return domain.Payment{}, fmt.Errorf("creating payment: %w", err)
	}

	s.publish(ctx, s.publisher, s.event(ctx, domain.EventPaymentSubmitted, payment))
	return payment, nil
}

// Get returns a payment by id.
func (s *PaymentService) Get(ctx context.Context, id string) (domain.Payment, error) {
	return s.payments.GetByID(ctx, id)
}

// List returns payments matching the filter. Filtering by pending gives
// the manual approval queue.
func (s *PaymentService) List(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	return s.payments.List(ctx, filter)
}

// AttachProof stores a proof document for a pending offline payment.
// The document is written to the blob store before, and outside of, the
// database write; it is removed again if that write does not happen.
func (s *PaymentService) AttachProof(ctx context.Context, paymentID, filename string, body io.Reader) (domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if !payment.Offline() {
		return domain.Payment{}, &domain.ValidationError{Field: "proof", Message: "only offline payments accept a proof document"}
	}
	if payment.Status != domain.PaymentPending {
		return domain.Payment{}, &domain.NotPendingError{PaymentID: payment.ID, Status: payment.Status}
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxProofSize+1))
	if err != nil {
		return domain.Payment{}, fmt.Errorf("reading proof: %w", err)
	}
	if len(data) == 0 {
		return domain.Payment{}, &domain.ValidationError{Field: "proof", Message: "is empty"}
	}
	if len(data) > MaxProofSize {
		return domain.Payment{}, &domain.ValidationError{Field: "proof", Message: "must be at most 5 MiB"}
	}

	mtype := mimetype.Detect(data)
	if !proofTypes[mtype.String()] {
		return domain.Payment{}, &domain.ValidationError{Field: "proof", Message: fmt.Sprintf("type %s is not accepted; use PNG, JPEG or PDF", mtype.String())}
	}

	key := path.Join("proofs", payment.ID, newID()+mtype.Extension())
	if err := s.blobs.Put(ctx, key, mtype.String(), bytes.NewReader(data), int64(len(data))); err != nil {
		return domain.Payment{}, fmt.Errorf("storing proof: %w", err)
	}

	previous := payment.ProofKey
	payment.ProofKey = key
	payment.Metadata = payment.Metadata.Merge(domain.Metadata{
		domain.MetaProofFilename:  path.Base(filename),
		domain.MetaProofMediaType: mtype.String(),
	})
	payment.UpdatedAt = s.now()

	ok, err := s.payments.AttachProof(ctx, payment)
	if err != nil || !ok {
		s.discardProof(ctx, key)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("saving proof: %w", err)
		}
		return domain.Payment{}, s.notPending(ctx, payment.ID)
	}
	if previous != "" {
		s.discardProof(ctx, previous)
	}
	return payment, nil
}

// Approve resolves a pending payment as approved, then activates or renews
// its subscription and activates the tenant when it is ready. Only one of
// several concurrent approvals succeeds; the rest get *domain.NotPendingError.
func (s *PaymentService) Approve(ctx context.Context, paymentID, approverID, notes string) (ApprovalResult, error) {
	if approverID == "" {
		return ApprovalResult{}, &domain.ValidationError{Field: "approver", Message: "is required"}
	}
	meta := domain.Metadata{}
	if notes != "" {
		meta[domain.MetaApprovalNotes] = notes
	}
	return s.approve(ctx, paymentID, approverID, meta)
}

// Reject resolves a pending payment as rejected. The subscription and
// tenant are left alone.
func (s *PaymentService) Reject(ctx context.Context, paymentID, reason string) (domain.Payment, error) {
	if reason == "" {
		return domain.Payment{}, &domain.ValidationError{Field: "reason", Message: "is required"}
	}
	return s.reject(ctx, paymentID, domain.Metadata{domain.MetaRejectionReason: reason})
}

// HandleGatewayOutcome applies a verified gateway callback. Repeated
// deliveries of an outcome that already took effect are a no-op.
func (s *PaymentService) HandleGatewayOutcome(ctx context.Context, outcome GatewayOutcome) (domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, outcome.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	want := domain.PaymentRejected
	if outcome.Succeeded {
		want = domain.PaymentApproved
	}
	if payment.Status == want {
		return payment, nil
	}

	meta := domain.Metadata{
		domain.MetaGatewayEventID:   outcome.EventID,
		domain.MetaGatewayEventType: outcome.EventType,
	}
	if !outcome.Succeeded {
		reason := outcome.Reason
		if reason == "" {
			reason = "declined by " + outcome.Gateway
		}
		meta[domain.MetaRejectionReason] = reason
		return s.reject(ctx, payment.ID, meta)
	}

	result, err := s.approve(ctx, payment.ID, "gateway:"+outcome.Gateway, meta)
	if err != nil {
		return domain.Payment{}, err
	}
	return result.Payment, nil
}

func (s *PaymentService) approve(ctx context.Context, paymentID, approver string, meta domain.Metadata) (ApprovalResult, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return ApprovalResult{}, err
	}

	next, err := s.validator.Apply(ctx, payment.Status, domain.PaymentEventApprove)
	if err != nil {
		return ApprovalResult{}, &domain.NotPendingError{PaymentID: payment.ID, Status: payment.Status}
	}

	now := s.now()
	payment.Status = next
	payment.ApprovedBy = approver
	payment.ApprovedAt = &now
	payment.Metadata = payment.Metadata.Merge(meta)
	payment.UpdatedAt = now

	ok, err := s.payments.Resolve(ctx, payment)
	if err != nil {
		return ApprovalResult{}, fmt.Errorf("approving payment: %w", err)
	}
	if !ok {
		return ApprovalResult{}, s.notPending(ctx, payment.ID)
	}

	s.publish(ctx, s.publisher, s.event(ctx, domain.EventPaymentApproved, payment))

	result := ApprovalResult{Payment: payment}

	before, err := s.tenants.GetByID(ctx, payment.TenantID)
	if err != nil {
		result.ActivationError = fmt.Errorf("loading tenant: %w", err)
		s.reportActivation(ctx, payment, result.ActivationError)
		return result, nil
	}

	sub, err := s.activator.ActivateFromPayment(ctx, payment.SubscriptionID)
	if err != nil {
		result.ActivationError = fmt.Errorf("activating subscription: %w", err)
		s.reportActivation(ctx, payment, result.ActivationError)
		return result, nil
	}
	result.Subscription = &sub

	tenant, err := s.reconciler.Reconcile(ctx, payment.TenantID)
	if err != nil {
		result.ActivationError = fmt.Errorf("activating tenant: %w", err)
		s.reportActivation(ctx, payment, result.ActivationError)
		return result, nil
	}
	result.Tenant = &tenant
	result.TenantActivated = before.Status != domain.TenantActive && tenant.Status == domain.TenantActive

	return result, nil
}

func (s *PaymentService) reject(ctx context.Context, paymentID string, meta domain.Metadata) (domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	next, err := s.validator.Apply(ctx, payment.Status, domain.PaymentEventReject)
	if err != nil {
		return domain.Payment{}, &domain.NotPendingError{PaymentID: payment.ID, Status: payment.Status}
	}

	now := s.now()
	payment.Status = next
	payment.RejectedAt = &now
	payment.Metadata = payment.Metadata.Merge(meta)
	payment.UpdatedAt = now

	ok, err := s.payments.Resolve(ctx, payment)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("rejecting payment: %w", err)
	}
	if !ok {
		return domain.Payment{}, s.notPending(ctx, payment.ID)
	}

	event := s.event(ctx, domain.EventPaymentRejected, payment)
	event.Data["reason"] = payment.Metadata.String(domain.MetaRejectionReason)
	s.publish(ctx, s.publisher, event)
	return payment, nil
}

// notPending reports the status that won a compare-and-set race.
func (s *PaymentService) notPending(ctx context.Context, paymentID string) error {
	current, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	return &domain.NotPendingError{PaymentID: paymentID, Status: current.Status}
}

func (s *PaymentService) reportActivation(ctx context.Context, payment domain.Payment, err error) {
	s.logger.ErrorContext(ctx, "payment approved but activation did not complete",
		slog.String("payment_id", payment.ID),
		slog.String("subscription_id", payment.SubscriptionID),
		slog.String("tenant_id", payment.TenantID),
		slog.Any("error", err),
	)
}

func (s *PaymentService) discardProof(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "removing proof document", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *PaymentService) event(ctx context.Context, eventType domain.EventType, payment domain.Payment) domain.Event {
	event := domain.Event{
		Type:           eventType,
		TenantID:       payment.TenantID,
		SubscriptionID: payment.SubscriptionID,
		PaymentID:      payment.ID,
		Data: map[string]string{
			"amount":   payment.Amount.StringFixed(2),
			"currency": payment.Currency,
		},
	}
	if tenant, err := s.tenants.GetByID(ctx, payment.TenantID); err == nil {
		event.Email = tenant.Email
	}
	return event
}
