// Package events is the event sink. Producers publish typed Events on a Bus;
// subscribers pick a single type or the wildcard topic.
package events

import (
	"time"
)

// Type names an event and doubles as its pubsub topic
type Type string

const (
	ItemAdded     Type = "item-added"
	ItemCancelled Type = "item-cancelled"
	ItemStarted   Type = "item-started"
	ItemCompleted Type = "item-completed"
	ItemFailed    Type = "item-failed"
	StepUpdated   Type = "step-updated"

	ResourceSnapshot Type = "resource-snapshot"
	Alert            Type = "alert"
	CriticalAlert    Type = "critical-alert"
	MemoryCritical   Type = "memory-critical"
	CPUCritical      Type = "cpu-critical"
)

// AllTopic receives every event regardless of type
const AllTopic = "*"

// Event is one published occurrence. Payload is a snapshot owned by the
// event; producers never mutate it after publishing.
type Event struct {
	Type      Type      `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	ItemID    string    `json:"itemId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
