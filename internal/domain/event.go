package domain

import "time"

// EventType names a lifecycle event emitted after a committed state change.
type EventType string

const (
	EventTenantRegistered         EventType = "tenant.registered"
	EventTenantApproved           EventType = "tenant.approved"
	EventTenantRejected           EventType = "tenant.rejected"
	EventTenantActivated          EventType = "tenant.activated"
	EventTenantSuspended          EventType = "tenant.suspended"
	EventTenantCancelled          EventType = "tenant.cancelled"
	EventTenantProvisioned        EventType = "tenant.provisioned"
	EventTenantProvisioningFailed EventType = "tenant.provisioning_failed"

	EventSubscriptionCreated     EventType = "subscription.created"
	EventSubscriptionCancelled   EventType = "subscription.cancelled"
	EventSubscriptionRenewed     EventType = "subscription.renewed"
	EventSubscriptionActivated   EventType = "subscription.activated"
	EventSubscriptionPlanChanged EventType = "subscription.plan_changed"
	EventSubscriptionTrialEnding EventType = "subscription.trial_expiring"

	EventPaymentSubmitted EventType = "payment.submitted"
	EventPaymentApproved  EventType = "payment.approved"
	EventPaymentRejected  EventType = "payment.rejected"
)

// Event is the payload handed to the notification dispatcher.
type Event struct {
	Type           EventType         `json:"type"`
	TenantID       string            `json:"tenant_id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	PaymentID      string            `json:"payment_id,omitempty"`
	Email          string            `json:"email,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Data           map[string]string `json:"data,omitempty"`
}
