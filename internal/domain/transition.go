package domain

import "context"

// Transition defines a valid state change: an event moves an entity from Src to Dst.
type Transition[S ~string, E ~string] struct {
	Event E
	Src   S
	Dst   S
}

// TransitionValidator checks whether an event is valid from the current
// state and returns the destination state.
type TransitionValidator[S ~string, E ~string] interface {
	Apply(ctx context.Context, current S, event E) (S, error)
}

// Sources returns every state from which the event is allowed.
func Sources[S ~string, E ~string](transitions []Transition[S, E], event E) []S {
	var out []S
	for _, t := range transitions {
		if t.Event == event {
			out = append(out, t.Src)
		}
	}
	return out
}
