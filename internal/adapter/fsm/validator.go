package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time checks: the per-entity validators implement domain.TransitionValidator.
var (
	_ domain.TransitionValidator[domain.TenantStatus, domain.TenantEvent]             = (*Validator[domain.TenantStatus, domain.TenantEvent])(nil)
	_ domain.TransitionValidator[domain.ProvisioningStatus, domain.ProvisioningEvent] = (*Validator[domain.ProvisioningStatus, domain.ProvisioningEvent])(nil)
	_ domain.TransitionValidator[domain.SubscriptionStatus, domain.SubscriptionEvent] = (*Validator[domain.SubscriptionStatus, domain.SubscriptionEvent])(nil)
	_ domain.TransitionValidator[domain.PaymentStatus, domain.PaymentEvent]           = (*Validator[domain.PaymentStatus, domain.PaymentEvent])(nil)
)

// buildEvents converts a transition table into looplab/fsm EventDesc format.
// It consolidates transitions with the same event+destination into a single
// EventDesc with multiple source states (e.g., cancel from "trial" and
// "active" both go to "cancelled").
func buildEvents[S ~string, E ~string](transitions []domain.Transition[S, E]) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// It creates a short-lived FSM instance per Apply call, initialized with
// the entity's current state, because looplab/fsm tracks state internally.
type Validator[S ~string, E ~string] struct {
	entity string
	events []loopfsm.EventDesc
}

// New creates a validator for one entity's transition table.
func New[S ~string, E ~string](entity string, transitions []domain.Transition[S, E]) *Validator[S, E] {
	return &Validator[S, E]{
		entity: entity,
		events: buildEvents(transitions),
	}
}

// NewTenant validates tenant lifecycle transitions.
func NewTenant() *Validator[domain.TenantStatus, domain.TenantEvent] {
	return New("tenant", domain.TenantTransitions)
}

// NewProvisioning validates tenant database provisioning transitions.
func NewProvisioning() *Validator[domain.ProvisioningStatus, domain.ProvisioningEvent] {
	return New("tenant database", domain.ProvisioningTransitions)
}

// NewSubscription validates subscription transitions.
func NewSubscription() *Validator[domain.SubscriptionStatus, domain.SubscriptionEvent] {
	return New("subscription", domain.SubscriptionTransitions)
}

// NewPayment validates payment transitions.
func NewPayment() *Validator[domain.PaymentStatus, domain.PaymentEvent] {
	return New("payment", domain.PaymentTransitions)
}

// Apply checks if the given event is valid from the current status and
// returns the destination status. Returns a *domain.InvalidStateError if
// the transition is not allowed. Events that keep the entity in place
// (renew, change_plan) return the current status.
func (v *Validator[S, E]) Apply(ctx context.Context, current S, event E) (S, error) {
	machine := loopfsm.NewFSM(string(current), v.events, nil)

	if !machine.Can(string(event)) {
		return "", v.invalid(current, event)
	}

	if err := machine.Event(ctx, string(event)); err != nil {
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		var invalidEvent loopfsm.InvalidEventError
		if errors.As(err, &invalidEvent) {
			return "", v.invalid(current, event)
		}
		return "", err
	}

	return S(machine.Current()), nil
}

func (v *Validator[S, E]) invalid(current S, event E) error {
	return &domain.InvalidStateError{
		Entity:  v.entity,
		Action:  string(event),
		Current: string(current),
	}
}
