package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/coursegen/internal/events"
)

// EventRecorder is an events.EventHandler that keeps every event it sees.
type EventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
	// Err is returned from every HandleEvent call when set.
	Err error
}

// HandleEvent implements events.EventHandler
func (r *EventRecorder) HandleEvent(_ context.Context, event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *EventRecorder) OfType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
