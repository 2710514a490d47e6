// Package telemetry records lifecycle events for circles.
package telemetry

import (
	"context"
	"time"

	"github.com/esusuhq/esusu/internal/storage"
)

// Event names emitted on circle lifecycle transitions.
const (
	EventCycleCompleted = "circle.cycle_completed"
	EventRolledOver     = "circle.rolled_over"
)

// Emitter records lifecycle events to an event store.
type Emitter struct {
	store storage.EventStore
	clock func() time.Time
}

// NewEmitter creates a new event emitter.
func NewEmitter(store storage.EventStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// WithClock overrides the emitter clock.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	if e != nil && clock != nil {
		e.clock = clock
	}
	return e
}

// Emit records an event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, evt storage.Event) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.store.AppendEvent(ctx, evt)
}

// CycleCompleted records a cycle completion event for a circle.
func (e *Emitter) CycleCompleted(ctx context.Context, c CircleInfo) error {
	return e.Emit(ctx, storage.Event{
		Name:        EventCycleCompleted,
		CircleID:    c.ID,
		CycleNumber: c.CycleNumber,
		TotalVolume: c.TotalVolume,
	})
}

// RolledOver records a rollover event for a circle.
func (e *Emitter) RolledOver(ctx context.Context, c CircleInfo) error {
	return e.Emit(ctx, storage.Event{
		Name:        EventRolledOver,
		CircleID:    c.ID,
		CycleNumber: c.CycleNumber,
		TotalVolume: c.TotalVolume,
	})
}

// CircleInfo carries the fields lifecycle events report.
type CircleInfo struct {
	ID          uint32
	CycleNumber uint32
	TotalVolume int64
}
