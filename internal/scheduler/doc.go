// Package scheduler is the transport that user code drives: it schedules
// actions relative to a virtual "current time", cancels them, and walks a
// ready → running → stopping → stopped lifecycle.
//
// While an action runs, Now reports the action's due time rather than the
// wall clock. Anything the action schedules or waits for is therefore
// relative to where it sits on the timeline, which lets a callback
// reschedule itself indefinitely without drifting. The cursor is saved and
// restored around every action, so nested scopes unwind correctly.
//
// Actions come in two kinds. Cancelable actions (Schedule) are dropped when
// the transport stops. Protected actions (ScheduleProtected) always run; they
// carry teardown work such as release ramps that must finish after a stop.
// The transport reports stopped only once every protected action has run.
//
// A Scheduler is single-threaded. Callers on other goroutines go through a
// runloop.Loop; the engine's timer must be delivered on the same loop.
package scheduler
