package api

import (
	"context"

	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
	"github.com/mescon/Cadence/internal/sketch"
)

// Transport is the control surface the HTTP layer drives. Implementations
// must be safe to call from any goroutine.
type Transport interface {
	Status(ctx context.Context) (scheduler.Status, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
}

// SketchLoader loads and reports sketches.
type SketchLoader interface {
	Load(ctx context.Context, name, src string) error
	Current() *sketch.Loaded
}

// LoopTransport runs every scheduler call on the loop that owns it.
type LoopTransport struct {
	Loop      *runloop.Loop
	Scheduler *scheduler.Scheduler
}

var _ Transport = (*LoopTransport)(nil)

func (t *LoopTransport) Status(ctx context.Context) (scheduler.Status, error) {
	var st scheduler.Status
	err := t.Loop.Do(ctx, func() { st = t.Scheduler.Snapshot() })
	return st, err
}

func (t *LoopTransport) Start(ctx context.Context) error {
	return runloop.Call(ctx, t.Loop, t.Scheduler.Start)
}

func (t *LoopTransport) Stop(ctx context.Context) error {
	return runloop.Call(ctx, t.Loop, t.Scheduler.Stop)
}

func (t *LoopTransport) Clear(ctx context.Context) error {
	return runloop.Call(ctx, t.Loop, t.Scheduler.ClearEvents)
}
