// Package messagequeue defines the message queue port and the subject
// layout used on the bus.
package messagequeue

import "context"

// Subjects published by the runtime. Event subjects fan out per thread and
// event type; approval subjects fan out per interrupt so any instance can
// resolve a suspension raised by another.
const (
	SubjectEventPrefix    = "parley.events."    // parley.events.<threadID>.<eventType>
	SubjectApprovalPrefix = "parley.approvals." // parley.approvals.<interruptID>
)

// EventSubject builds the mirror subject for one thread event.
func EventSubject(threadID, eventType string) string {
	return SubjectEventPrefix + threadID + "." + eventType
}

// ApprovalSubject builds the resolution subject for one interrupt.
func ApprovalSubject(interruptID string) string {
	return SubjectApprovalPrefix + interruptID
}

// Handler processes one message. Returning an error triggers redelivery
// until the retry budget is exhausted, after which the message moves to
// the subject's DLQ.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for durable pub/sub messaging.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
	Close() error
}
