package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the state of a tenant's subscription.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Live reports whether the status grants access to the product.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionTrial || s == SubscriptionActive
}

// SubscriptionEvent is an action on a subscription.
type SubscriptionEvent string

const (
	SubscriptionEventActivate   SubscriptionEvent = "activate"
	SubscriptionEventRenew      SubscriptionEvent = "renew"
	SubscriptionEventCancel     SubscriptionEvent = "cancel"
	SubscriptionEventChangePlan SubscriptionEvent = "change_plan"
)

// SubscriptionTransitions lists the valid subscription state changes.
// Cancelled is terminal: a tenant continues by creating a new subscription.
var SubscriptionTransitions = []Transition[SubscriptionStatus, SubscriptionEvent]{
	{Event: SubscriptionEventActivate, Src: SubscriptionTrial, Dst: SubscriptionActive},
	{Event: SubscriptionEventRenew, Src: SubscriptionTrial, Dst: SubscriptionTrial},
	{Event: SubscriptionEventRenew, Src: SubscriptionActive, Dst: SubscriptionActive},
	{Event: SubscriptionEventCancel, Src: SubscriptionTrial, Dst: SubscriptionCancelled},
	{Event: SubscriptionEventCancel, Src: SubscriptionActive, Dst: SubscriptionCancelled},
	{Event: SubscriptionEventChangePlan, Src: SubscriptionActive, Dst: SubscriptionActive},
}

// Metadata keys stored on subscriptions.
const (
	MetaCancellationReason  = "cancellation_reason"
	MetaCancelAtPeriodEnd   = "cancel_at_period_end"
	MetaScheduledPlanChange = "scheduled_plan_change"
	MetaTrialReminderSent   = "trial_reminder_sent"
	MetaPaidThrough         = "paid_through"
)

// ScheduledPlanChange is a plan change recorded for the end of the current period.
type ScheduledPlanChange struct {
	PlanID       string    `json:"plan_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Subscription binds one tenant to one plan for a billing period.
type Subscription struct {
	ID            string
	TenantID      string
	PlanID        string
	Status        SubscriptionStatus
	Amount        decimal.Decimal
	Currency      string
	StartsAt      time.Time
	EndsAt        *time.Time
	PaymentMethod string
	CancelledAt   *time.Time
	Metadata      Metadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScheduledChange decodes the scheduled plan change, if one is recorded.
func (s Subscription) ScheduledChange() (ScheduledPlanChange, bool) {
	raw, ok := s.Metadata[MetaScheduledPlanChange].(map[string]any)
	if !ok {
		return ScheduledPlanChange{}, false
	}
	change := ScheduledPlanChange{}
	change.PlanID, _ = raw["plan_id"].(string)
	if at, ok := raw["scheduled_for"].(string); ok {
		change.ScheduledFor, _ = time.Parse(time.RFC3339, at)
	}
	return change, change.PlanID != ""
}

// WithScheduledChange records a plan change for the end of the period.
func (s Subscription) WithScheduledChange(change ScheduledPlanChange) Metadata {
	return s.Metadata.Merge(Metadata{
		MetaScheduledPlanChange: map[string]any{
			"plan_id":       change.PlanID,
			"scheduled_for": change.ScheduledFor.UTC().Format(time.RFC3339),
		},
	})
}

// PaidThrough returns the period end covered by the last applied payment.
func (s Subscription) PaidThrough() (time.Time, bool) {
	raw := s.Metadata.String(MetaPaidThrough)
	if raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// CurrentPeriodPaid reports whether an applied payment already covers the
// period ending at EndsAt. Any payment covers a period without an end.
func (s Subscription) CurrentPeriodPaid() bool {
	at, ok := s.PaidThrough()
	if !ok {
		return false
	}
	return s.EndsAt == nil || !at.Before(*s.EndsAt)
}

// WithPaidPeriod marks the current period as paid. at stands in for the
// period end when the subscription has none.
func (s Subscription) WithPaidPeriod(at time.Time) Metadata {
	through := at
	if s.EndsAt != nil {
		through = *s.EndsAt
	}
	return s.Metadata.Merge(Metadata{MetaPaidThrough: through.UTC().Format(time.RFC3339)})
}
