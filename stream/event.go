// Package stream provides an in-process broker for run lifecycle events.
// It implements event.Publisher, so an Orchestrator configured with a
// Broker fans every committed transition out to subscribers via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"

	"github.com/pcharbon70/loom/event"
)

// EventType identifies the kind of lifecycle event. Values mirror the
// event package's published names.
type EventType string

const (
	EventRunStarted        EventType = event.RunStarted
	EventRunCompleted      EventType = event.RunCompleted
	EventRunFailed         EventType = event.RunFailed
	EventRunCancelled      EventType = event.RunCancelled
	EventStepStarted       EventType = event.StepStarted
	EventStepCompleted     EventType = event.StepCompleted
	EventStepFailed        EventType = event.StepFailed
	EventApprovalRequested EventType = event.ApprovalRequested
	EventApprovalGranted   EventType = event.ApprovalGranted
	EventApprovalRejected  EventType = event.ApprovalRejected
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted by the broker.
	Timestamp time.Time `json:"ts"`

	// Topic is the run-scoped channel this event was published on.
	Topic string `json:"topic"`

	// Data is the full event payload.
	Data json.RawMessage `json:"data"`
}
