package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/tenantops/internal/adapter/fsm"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestTenantValidator_AllTransitions(t *testing.T) {
	v := adapter.NewTenant()
	ctx := context.Background()

	for _, tr := range domain.TenantTransitions {
		dst, err := v.Apply(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("Apply(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestTenantValidator_InvalidTransition(t *testing.T) {
	v := adapter.NewTenant()
	ctx := context.Background()

	// A tenant can only be approved once.
	_, err := v.Apply(ctx, domain.TenantApproved, domain.TenantEventApprove)
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if stateErr.Entity != "tenant" {
		t.Errorf("entity = %q, want tenant", stateErr.Entity)
	}
	if stateErr.Action != "approve" {
		t.Errorf("action = %q, want approve", stateErr.Action)
	}
	if stateErr.Current != "approved" {
		t.Errorf("current = %q, want approved", stateErr.Current)
	}
}

func TestSubscriptionValidator_SelfLoops(t *testing.T) {
	v := adapter.NewSubscription()
	ctx := context.Background()

	steps := []struct {
		from  domain.SubscriptionStatus
		event domain.SubscriptionEvent
		want  domain.SubscriptionStatus
	}{
		{domain.SubscriptionTrial, domain.SubscriptionEventRenew, domain.SubscriptionTrial},
		{domain.SubscriptionActive, domain.SubscriptionEventRenew, domain.SubscriptionActive},
		{domain.SubscriptionActive, domain.SubscriptionEventChangePlan, domain.SubscriptionActive},
		{domain.SubscriptionTrial, domain.SubscriptionEventActivate, domain.SubscriptionActive},
	}

	for _, step := range steps {
		got, err := v.Apply(ctx, step.from, step.event)
		if err != nil {
			t.Fatalf("Apply(%q, %q) error: %v", step.from, step.event, err)
		}
		if got != step.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", step.from, step.event, got, step.want)
		}
	}
}

func TestSubscriptionValidator_CancelledIsTerminal(t *testing.T) {
	v := adapter.NewSubscription()
	ctx := context.Background()

	for _, event := range []domain.SubscriptionEvent{
		domain.SubscriptionEventCancel,
		domain.SubscriptionEventRenew,
		domain.SubscriptionEventChangePlan,
		domain.SubscriptionEventActivate,
	} {
		if _, err := v.Apply(ctx, domain.SubscriptionCancelled, event); err == nil {
			t.Errorf("Apply(cancelled, %q) should fail", event)
		}
	}
}

func TestPaymentValidator_OneWay(t *testing.T) {
	v := adapter.NewPayment()
	ctx := context.Background()

	got, err := v.Apply(ctx, domain.PaymentPending, domain.PaymentEventApprove)
	if err != nil || got != domain.PaymentApproved {
		t.Fatalf("Apply(pending, approve) = %q, %v", got, err)
	}

	for _, from := range []domain.PaymentStatus{domain.PaymentApproved, domain.PaymentRejected} {
		for _, event := range []domain.PaymentEvent{domain.PaymentEventApprove, domain.PaymentEventReject} {
			var stateErr *domain.InvalidStateError
			if _, err := v.Apply(ctx, from, event); !errors.As(err, &stateErr) {
				t.Errorf("Apply(%q, %q) = %v, want InvalidStateError", from, event, err)
			}
		}
	}
}

func TestProvisioningValidator_RetryFromFailed(t *testing.T) {
	v := adapter.NewProvisioning()
	ctx := context.Background()

	got, err := v.Apply(ctx, domain.ProvisioningFailed, domain.ProvisioningEventStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != domain.ProvisioningInProgress {
		t.Errorf("got %q, want %q", got, domain.ProvisioningInProgress)
	}

	if _, err := v.Apply(ctx, domain.ProvisioningProvisioned, domain.ProvisioningEventStart); err == nil {
		t.Error("start from provisioned should fail")
	}
}
