package broker

import "github.com/GriffinCanCode/corsbroker/internal/shared/types"

// Notifier pushes signals to connected callers.
type Notifier interface {
	// Notify sends to one connection and reports whether it was found.
	Notify(connID, frameType string, payload types.SignalPayload) bool
	// Broadcast sends to every connection of origin and returns how many
	// received it.
	Broadcast(origin, frameType string, payload types.SignalPayload) int
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, types.SignalPayload) bool { return false }

func (nopNotifier) Broadcast(string, string, types.SignalPayload) int { return 0 }
