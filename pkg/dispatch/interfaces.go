// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
)

// Dispatcher defines the contract for a component that can send notifications
// to a specific platform (e.g., Apple's APNS, Google's FCM).
type Dispatcher interface {
	// Send delivers the notification to a batch of platform-specific tokens.
	// It returns exactly one outcome per token, in the order the tokens were given.
	// Provider failures are reported inside the outcomes, never as an error.
	Send(ctx context.Context, tokens []string, n Notification) []DeliveryOutcome
}

// Registry maps a platform to the Dispatcher that serves it.
type Registry map[Platform]Dispatcher

// Lookup returns the dispatcher registered for p, if any.
func (r Registry) Lookup(p Platform) (Dispatcher, bool) {
	d, ok := r[p]
	if !ok || d == nil {
		return nil, false
	}
	return d, true
}

// Platforms lists the registered platforms in a stable order.
func (r Registry) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms {
		if _, ok := r.Lookup(p); ok {
			out = append(out, p)
		}
	}
	return out
}
