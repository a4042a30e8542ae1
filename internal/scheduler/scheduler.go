package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mescon/Cadence/internal/clock"
	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/engine"
	"github.com/mescon/Cadence/internal/logger"
)

// State is the transport lifecycle state.
type State string

const (
	Ready    State = "ready"
	Running  State = "running"
	Stopping State = "stopping"
	Stopped  State = "stopped"
)

// ErrInvalidTransition is returned when a lifecycle operation is called from
// a state that does not allow it. It signals a caller bug.
var ErrInvalidTransition = errors.New("invalid transport transition")

// Ref identifies a scheduled action. The zero Ref means "not scheduled".
type Ref = engine.Ref

// Action is the user work attached to a scheduled event.
type Action func()

// Publisher receives lifecycle and scheduling events.
type Publisher interface {
	Publish(event domain.Event) error
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the engine poll period, clamped to engine.MinInterval.
	Interval time.Duration
	// LookAhead is how far past elapsed time each poll reaches.
	LookAhead time.Duration
	// Clock arms poll timers. Defaults to a RealClock.
	Clock clock.Clock
	// TimeProvider reads engine time. Defaults to clock.Elapsed(Clock).
	TimeProvider clock.TimeProvider
	// Publisher, when set, receives domain events for every transition,
	// schedule, trigger, cancellation and rejection.
	Publisher Publisher
}

// Scheduler is the scheduling façade.
type Scheduler struct {
	engine  *engine.Engine
	state   State
	cursor  time.Duration
	onEnded func()
	pub     Publisher
	log     logger.Component
}

// event is what the engine queues on behalf of the façade.
type event struct {
	s          *Scheduler
	ref        Ref
	action     Action
	cancelable bool
}

func (ev *event) Trigger(due time.Duration) {
	ev.s.trigger(ev, due)
}

// New creates a Scheduler in the Ready state.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		engine: engine.New(engine.Options{
			Interval:     opts.Interval,
			LookAhead:    opts.LookAhead,
			Clock:        opts.Clock,
			TimeProvider: opts.TimeProvider,
		}),
		state: Ready,
		pub:   opts.Publisher,
		log:   logger.For("scheduler"),
	}
	s.engine.SetOnEnded(s.handleEnded)
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return s.state
}

// Now returns the virtual time cursor. Inside an action it is the action's
// due time plus any Wait performed so far.
func (s *Scheduler) Now() time.Duration {
	return s.cursor
}

// RtNow returns engine elapsed time, unaffected by the virtual cursor.
func (s *Scheduler) RtNow() time.Duration {
	return s.engine.Now()
}

// Wait advances the virtual cursor by delay without yielding. Negative
// delays are ignored.
func (s *Scheduler) Wait(delay time.Duration) {
	if delay > 0 {
		s.cursor += delay
	}
}

// SetOnEnded registers fn to run when a stop has fully drained.
func (s *Scheduler) SetOnEnded(fn func()) {
	s.onEnded = fn
}

// SetTimeProvider replaces the engine time source; nil restores the default.
// The provider must be non-decreasing. A running transport keeps its current
// provider until the next Start.
func (s *Scheduler) SetTimeProvider(tp clock.TimeProvider) {
	s.engine.SetTimeProvider(tp)
}

// Pending returns the number of queued actions.
func (s *Scheduler) Pending() int {
	return s.engine.Pending()
}

// Schedule queues a cancelable action delay after Now. It returns the zero
// Ref once the transport is stopping or stopped.
func (s *Scheduler) Schedule(delay time.Duration, action Action) Ref {
	return s.schedule(delay, action, true)
}

// ScheduleProtected queues an action that Stop will not cancel. It is still
// accepted while stopping so teardown chains can finish, and rejected once
// stopped.
func (s *Scheduler) ScheduleProtected(delay time.Duration, action Action) Ref {
	return s.schedule(delay, action, false)
}

func (s *Scheduler) schedule(delay time.Duration, action Action, cancelable bool) Ref {
	if action == nil {
		return 0
	}
	if delay < 0 {
		delay = 0
	}
	due := s.cursor + delay

	if s.state == Stopped || (s.state == Stopping && cancelable) {
		s.log.Debugf("rejected schedule at %s while %s", due, s.state)
		s.publish(domain.NewScheduleEvent(domain.ScheduleRejected, "", s.scheduleData(due, cancelable, "")))
		return 0
	}

	ev := &event{s: s, action: action, cancelable: cancelable}
	ev.ref = s.engine.Schedule(due, ev)
	s.publish(domain.NewScheduleEvent(domain.EventScheduled, refID(ev.ref), s.scheduleData(due, cancelable, "")))
	return ev.ref
}

// Cancel removes a queued action. Unknown, fired and zero refs are ignored.
func (s *Scheduler) Cancel(ref Ref) {
	if !ref.Valid() {
		return
	}
	s.cancel(ref)
}

func (s *Scheduler) cancel(ref Ref) {
	var (
		due        time.Duration
		cancelable bool
		found      bool
	)
	if s.pub != nil {
		s.engine.Each(func(r Ref, at time.Duration, e engine.Event) bool {
			if r != ref {
				return true
			}
			due, found = at, true
			if ev, ok := e.(*event); ok {
				cancelable = ev.cancelable
			}
			return false
		})
	}
	if s.engine.Cancel(ref) && found {
		s.publish(domain.NewScheduleEvent(domain.EventCanceled, refID(ref), s.scheduleData(due, cancelable, "")))
	}
}

// Start moves Ready → Running: the cursor resets to zero and the engine
// starts polling from position zero, staying alive while the queue is empty.
func (s *Scheduler) Start() error {
	if s.state != Ready {
		return s.invalid("start")
	}
	s.cursor = 0
	s.engine.SetKeepAlive(true)
	s.engine.Start(0)
	s.transition(Running, domain.TransportStarted)
	return nil
}

// Stop moves Running → Stopping. Every queued cancelable action is removed;
// protected ones stay and still fire. Once the queue drains the transport
// becomes Stopped and the OnEnded hook runs.
func (s *Scheduler) Stop() error {
	if s.state != Running {
		return s.invalid("stop")
	}

	var doomed []Ref
	s.engine.Each(func(ref Ref, _ time.Duration, e engine.Event) bool {
		if ev, ok := e.(*event); ok && ev.cancelable {
			doomed = append(doomed, ref)
		}
		return true
	})
	for _, ref := range doomed {
		s.cancel(ref)
	}

	s.transition(Stopping, domain.TransportStopping)
	s.engine.SetKeepAlive(false)
	s.log.Debugf("stopping: canceled %d action(s), %d protected left", len(doomed), s.engine.Pending())
	return nil
}

// ClearEvents drops every queued action, protected or not, and returns to
// Ready. It is invalid while Running; Stop first.
func (s *Scheduler) ClearEvents() error {
	if s.state == Running {
		return s.invalid("clear events")
	}
	s.engine.Stop()
	s.engine.Clear()
	s.cursor = 0
	s.transition(Ready, domain.EventsCleared)
	return nil
}

func (s *Scheduler) handleEnded() {
	if s.state != Stopping {
		s.log.Warnf("engine drained while %s; ignoring", s.state)
		return
	}
	s.transition(Stopped, domain.TransportStopped)
	if s.onEnded != nil {
		s.onEnded()
	}
}

// trigger runs ev's action with the cursor pinned to due, then restores the
// previous cursor.
func (s *Scheduler) trigger(ev *event, due time.Duration) {
	saved := s.cursor
	s.cursor = due
	defer func() { s.cursor = saved }()

	s.publish(domain.NewScheduleEvent(domain.EventTriggered, refID(ev.ref), s.scheduleData(due, ev.cancelable, "")))
	if err := runAction(ev.action); err != nil {
		s.log.Errorf("action %d due at %s failed: %v", ev.ref, due, err)
		s.publish(domain.NewScheduleEvent(domain.ActionFailed, refID(ev.ref), s.scheduleData(due, ev.cancelable, err.Error())))
	}
}

// runAction converts a panicking action into an error so one bad action
// cannot take down the poll loop.
func runAction(action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("action panicked: %w", e)
			} else {
				err = fmt.Errorf("action panicked: %v", r)
			}
		}
	}()
	action()
	return nil
}

func (s *Scheduler) transition(to State, eventType domain.EventType) {
	from := s.state
	s.state = to
	s.log.Infof("transport %s -> %s", from, to)
	s.publish(domain.NewTransportEvent(eventType, domain.TransportEventData{
		From:    string(from),
		To:      string(to),
		RtNowMs: domain.Milliseconds(s.engine.Now()),
		Pending: s.engine.Pending(),
	}))
}

func (s *Scheduler) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, s.state)
}

func (s *Scheduler) scheduleData(due time.Duration, cancelable bool, errMsg string) domain.ScheduleEventData {
	return domain.ScheduleEventData{
		DueMs:      domain.Milliseconds(due),
		RtNowMs:    domain.Milliseconds(s.engine.Now()),
		Cancelable: cancelable,
		Error:      errMsg,
	}
}

func (s *Scheduler) publish(e domain.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(e); err != nil {
		s.log.Debugf("publish %s: %v", e.EventType, err)
	}
}

func refID(ref Ref) string {
	return strconv.FormatUint(uint64(ref), 10)
}

// Status is a point-in-time view of the transport.
type Status struct {
	State     State         `json:"state"`
	Now       time.Duration `json:"-"`
	RtNow     time.Duration `json:"-"`
	NowMs     float64       `json:"now_ms"`
	RtNowMs   float64       `json:"rt_now_ms"`
	Pending   int           `json:"pending"`
	NextDueMs *float64      `json:"next_due_ms,omitempty"`
	Interval  time.Duration `json:"-"`
	LookAhead time.Duration `json:"-"`
}

// Snapshot captures the current Status.
func (s *Scheduler) Snapshot() Status {
	st := Status{
		State:     s.state,
		Now:       s.cursor,
		RtNow:     s.engine.Now(),
		NowMs:     domain.Milliseconds(s.cursor),
		RtNowMs:   domain.Milliseconds(s.engine.Now()),
		Pending:   s.engine.Pending(),
		Interval:  s.engine.Interval(),
		LookAhead: s.engine.LookAhead(),
	}
	if due, ok := s.engine.NextDue(); ok {
		ms := domain.Milliseconds(due)
		st.NextDueMs = &ms
	}
	return st
}
