package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventEmitter_EmitEvent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(ctx, NewEvent(BatchSubmitted, uuid.New())))
		assert.Zero(t, emitter.HandlerCount())
	})

	t.Run("delivers in registration order", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(nil)
		var order []int
		for i := range 3 {
			emitter.RegisterHandler(HandlerFunc(func(context.Context, *Event) error {
				order = append(order, i)
				return nil
			}))
		}

		require.NoError(t, emitter.EmitEvent(ctx, NewJobEvent(JobCompleted, uuid.New(), uuid.New(), 0)))
		assert.Equal(t, []int{0, 1, 2}, order)
		assert.Equal(t, 3, emitter.HandlerCount())
	})

	t.Run("failures do not stop delivery", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		errRedis := errors.New("redis unavailable")
		errOther := errors.New("sink full")

		first := &MockEventHandler{HandlerError: errRedis}
		panicky := HandlerFunc(func(context.Context, *Event) error { panic("boom") })
		second := &MockEventHandler{HandlerError: errOther}
		last := &MockEventHandler{}
		emitter.RegisterHandler(first)
		emitter.RegisterHandler(panicky)
		emitter.RegisterHandler(second)
		emitter.RegisterHandler(last)

		event := NewJobEvent(JobFailed, uuid.New(), uuid.New(), 3)
		err := emitter.EmitEvent(ctx, event)

		require.Error(t, err)
		assert.ErrorIs(t, err, errRedis)
		assert.ErrorIs(t, err, errOther)
		assert.ErrorContains(t, err, "event handler panicked: boom")
		for _, h := range []*MockEventHandler{first, second, last} {
			assert.Equal(t, 1, h.HandledCount)
			assert.Same(t, event, h.LastEvent)
		}
	})
}
