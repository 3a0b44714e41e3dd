package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event.
type EventType string

// Lifecycle event types emitted by the queue.
const (
	BatchSubmitted EventType = "batch.submitted"
	BatchCancelled EventType = "batch.cancelled"
	JobClaimed     EventType = "job.claimed"
	JobCompleted   EventType = "job.completed"
	JobRequeued    EventType = "job.requeued"
	JobFailed      EventType = "job.failed"
	// LeasesSwept reports one sweep pass that recovered at least one job.
	LeasesSwept EventType = "leases.swept"
)

// Event is a job or batch lifecycle notification. Fields that do not apply
// to a type are left at their zero value.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type    EventType `json:"type"`
	BatchID uuid.UUID `json:"batch_id,omitempty"`
	JobID   uuid.UUID `json:"job_id,omitempty"`

	// Attempt is the job's attempt_count after the transition.
	Attempt int `json:"attempt,omitempty"`

	// Count carries totals: jobs in a submitted batch, jobs cancelled,
	// or jobs recovered by a sweep (Count requeued plus Failed failed).
	Count  int `json:"count,omitempty"`
	Failed int `json:"failed,omitempty"`

	Error string `json:"error,omitempty"`

	// Duration is the claim-to-outcome time of a job.
	Duration time.Duration `json:"duration_ns,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent creates an event of the given type for a batch.
func NewEvent(eventType EventType, batchID uuid.UUID) *Event {
	return &Event{
		ID:         uuid.New(),
		Type:       eventType,
		BatchID:    batchID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewJobEvent creates an event of the given type for one job.
func NewJobEvent(eventType EventType, batchID, jobID uuid.UUID, attempt int) *Event {
	e := NewEvent(eventType, batchID)
	e.JobID = jobID
	e.Attempt = attempt
	return e
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the queue to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *Event) error { return nil }
