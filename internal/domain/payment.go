package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the state of a payment attempt.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// PaymentEvent resolves a pending payment.
type PaymentEvent string

const (
	PaymentEventApprove PaymentEvent = "approve"
	PaymentEventReject  PaymentEvent = "reject"
)

// PaymentTransitions are one-way: approved and rejected are terminal.
var PaymentTransitions = []Transition[PaymentStatus, PaymentEvent]{
	{Event: PaymentEventApprove, Src: PaymentPending, Dst: PaymentApproved},
	{Event: PaymentEventReject, Src: PaymentPending, Dst: PaymentRejected},
}

// PaymentMethodOffline marks a manually submitted payment that needs proof
// and operator approval. Any other method names a gateway.
const PaymentMethodOffline = "offline"

// Metadata keys stored on payments.
// Rejections reuse MetaRejectionReason.
const (
	MetaApprovalNotes    = "approval_notes"
	MetaProofFilename    = "proof_filename"
	MetaProofMediaType   = "proof_media_type"
	MetaGatewayEventID   = "gateway_event_id"
	MetaGatewayEventType = "gateway_event_type"
)

// Payment is one attempt to collect money for a subscription.
type Payment struct {
	ID               string
	SubscriptionID   string
	TenantID         string
	Amount           decimal.Decimal
	Currency         string
	Method           string
	Status           PaymentStatus
	ProofKey         string
	GatewayReference string
	ApprovedBy       string
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	Metadata         Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Offline reports whether the payment was submitted manually.
func (p Payment) Offline() bool {
	return p.Method == PaymentMethodOffline
}

// PaymentFilter holds optional criteria for listing payments.
type PaymentFilter struct {
	Status         *PaymentStatus
	SubscriptionID string
	Limit          int
	Offset         int
}
