// Package broadcast defines the port for pushing real-time thread events to
// connected observers.
package broadcast

import "context"

// Broadcaster fans a typed thread event out to every observer watching that
// thread (or watching all threads).
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, threadID, eventType string, payload any)
}
