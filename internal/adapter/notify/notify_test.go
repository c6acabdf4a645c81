package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/neomorfeo/tenantops/internal/adapter/notify"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		event       domain.Event
		wantSubject string
		wantBody    []string
	}{
		{
			name:        "cancelled with grace period",
			event:       domain.Event{Type: domain.EventSubscriptionCancelled, Data: map[string]string{"grace_period_days": "7", "reason": "non-payment"}},
			wantSubject: "Your subscription was cancelled",
			wantBody:    []string{"kept for 7 days", "Reason: non-payment"},
		},
		{
			name:        "payment approved",
			event:       domain.Event{Type: domain.EventPaymentApproved, Data: map[string]string{"amount": "99.00", "currency": "USD"}},
			wantSubject: "Payment received",
			wantBody:    []string{"99.00 USD"},
		},
		{
			name:        "trial ending",
			event:       domain.Event{Type: domain.EventSubscriptionTrialEnding, Data: map[string]string{"ends_at": "2026-03-12T09:00:00Z"}},
			wantSubject: "Your trial is ending soon",
			wantBody:    []string{"2026-03-12T09:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := notify.Render(tt.event)
			if !ok {
				t.Fatal("Render reported no message")
			}
			if msg.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", msg.Subject, tt.wantSubject)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(msg.Body, want) {
					t.Errorf("Body %q does not contain %q", msg.Body, want)
				}
			}
		})
	}
}

func TestRender_CancelledWithoutGrace(t *testing.T) {
	msg, _ := notify.Render(domain.Event{Type: domain.EventSubscriptionCancelled, Data: map[string]string{"grace_period_days": "0"}})
	if strings.Contains(msg.Body, "kept for") {
		t.Errorf("Body = %q, want no grace sentence", msg.Body)
	}
}

func TestRender_InternalEvent(t *testing.T) {
	if _, ok := notify.Render(domain.Event{Type: domain.EventTenantProvisioningFailed}); ok {
		t.Error("provisioning failures are not sent to tenants")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := n.Notify(context.Background(), domain.Event{Type: domain.EventTenantApproved, TenantID: "t-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	for _, want := range []string{`"tenant_id":"t-1"`, `"to":"a@example.com"`, `Your account has been approved`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log %q does not contain %q", buf.String(), want)
		}
	}
}

func TestNewEmailNotifier_RequiresConfig(t *testing.T) {
	if _, err := notify.NewEmailNotifier("", "ops", "ops@example.com", slog.Default()); err == nil {
		t.Error("missing API key should fail")
	}
	if _, err := notify.NewEmailNotifier("re_key", "ops", "", slog.Default()); err == nil {
		t.Error("missing from email should fail")
	}
}
