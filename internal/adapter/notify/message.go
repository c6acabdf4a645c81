// Package notify delivers lifecycle events to tenants.
package notify

import (
	"fmt"
	"strings"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Render turns an event into the message sent to the tenant. Events that
// carry no tenant-facing news report false.
func Render(event domain.Event) (Message, bool) {
	var subject string
	var lines []string

	switch event.Type {
	case domain.EventTenantRegistered:
		subject = "We received your registration"
		lines = append(lines, "Your account is waiting for review. We will email you once it is approved.")
	case domain.EventTenantApproved:
		subject = "Your account has been approved"
		lines = append(lines, "Your account has been approved. Your workspace is being prepared.")
	case domain.EventTenantRejected:
		subject = "Your registration was declined"
		lines = append(lines, "Unfortunately your registration could not be approved.")
	case domain.EventTenantActivated:
		subject = "Your workspace is ready"
		lines = append(lines, "Your workspace is active and ready to use.")
	case domain.EventTenantSuspended:
		subject = "Your account has been suspended"
		lines = append(lines, "Access to your workspace has been suspended. Contact support to restore it.")
	case domain.EventTenantCancelled:
		subject = "Your account has been closed"
		lines = append(lines, "Your account has been closed.")
	case domain.EventSubscriptionCancelled:
		subject = "Your subscription was cancelled"
		lines = append(lines, "Your subscription has been cancelled.")
		if days := event.Data["grace_period_days"]; days != "" && days != "0" {
			lines = append(lines, fmt.Sprintf("Your data is kept for %s days in case you change your mind.", days))
		}
	case domain.EventSubscriptionTrialEnding:
		subject = "Your trial is ending soon"
		lines = append(lines, fmt.Sprintf("Your trial ends on %s. Submit a payment to keep your workspace.", event.Data["ends_at"]))
	case domain.EventSubscriptionActivated, domain.EventSubscriptionRenewed:
		subject = "Your subscription is active"
		lines = append(lines, "Thank you. Your subscription is active.")
	case domain.EventPaymentApproved:
		subject = "Payment received"
		lines = append(lines, fmt.Sprintf("We received your payment of %s %s.", event.Data["amount"], event.Data["currency"]))
	case domain.EventPaymentRejected:
		subject = "Payment could not be confirmed"
		lines = append(lines, fmt.Sprintf("We could not confirm your payment of %s %s.", event.Data["amount"], event.Data["currency"]))
	default:
		return Message{}, false
	}

	if reason := event.Data["reason"]; reason != "" {
		lines = append(lines, "Reason: "+reason)
	}
	return Message{Subject: subject, Body: strings.Join(lines, "\n\n")}, true
}
