// Package events is the future-event queue drained by the frame loop.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/netsim/timectrl"
)

// Kind labels what an event does, for metrics and inspection.
type Kind string

const (
	// KindGenerate produces one new request.
	KindGenerate Kind = "generate-request"
	// KindGeneric is used by Schedule when no kind is given.
	KindGeneric Kind = "generic"
)

// Scheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation.
//
// The frame loop advances the clock and then calls RunDue; callbacks
// never run on a goroutine of their own.
type Scheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// ScheduleEvent is Schedule with an explicit kind.
	ScheduleEvent(kind Kind, at time.Time, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, usually delegated to the underlying SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now() and
	// returns how many ran. Events due at the same time run in the order
	// they were scheduled.
	RunDue() int

	// Pending returns the number of scheduled, not yet run events.
	Pending() int

	// PendingOfKind counts pending events of one kind.
	PendingOfKind(kind Kind) int
}

// MetricsRecorder observes queue activity.
type MetricsRecorder interface {
	SetPendingEvents(n int)
	IncEventsFired(kind string)
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	kind      Kind
	when      time.Time
	f         func()
	cancelled bool
}

// eventScheduler stores events ordered by scheduled time and uses the
// SimClock to decide which are due.
type eventScheduler struct {
	clock   timectrl.SimClock
	metrics MetricsRecorder

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
}

// Option customises a Scheduler.
type Option func(*eventScheduler)

// WithMetricsRecorder attaches a recorder for queue depth and firings.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *eventScheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a new event scheduler backed by the given SimClock.
func NewScheduler(clock timectrl.SimClock, opts ...Option) Scheduler {
	s := &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Schedule registers a generic callback to run at the specified simulation time.
func (s *eventScheduler) Schedule(at time.Time, f func()) string {
	return s.ScheduleEvent(KindGeneric, at, f)
}

// ScheduleEvent registers a callback of the given kind.
func (s *eventScheduler) ScheduleEvent(kind Kind, at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		kind: kind,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev
	s.recordPendingLocked()

	return id
}

// addEventLocked inserts an event after every event due no later than
// it. Caller must hold s.mu lock.
func (s *eventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}

	ev.cancelled = true
	delete(s.index, id)
	s.recordPendingLocked()
	// Actual removal from s.events is lazy; RunDue skips cancelled events.
}

// Now returns the current simulation time from the underlying clock.
func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of live events.
func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// PendingOfKind counts live events of kind.
func (s *eventScheduler) PendingOfKind(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.index {
		if ev.kind == kind {
			n++
		}
	}
	return n
}

// popDueLocked removes and returns the earliest non-cancelled event that
// is due, or nil. Caller must hold s.mu lock.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			// Events are ordered by time, so all later ones are in the future too.
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// RunDue executes all events whose scheduled time is <= Now().
// It is safe to call multiple times; already-run events will not run again.
// Events scheduled by a callback run in the same call if they are due.
func (s *eventScheduler) RunDue() int {
	ran := 0
	for {
		now := s.clock.Now()

		s.mu.Lock()
		ev := s.popDueLocked(now)
		s.recordPendingLocked()
		s.mu.Unlock()

		if ev == nil {
			return ran
		}

		// Execute callback OUTSIDE the lock to avoid deadlocks and allow re-entrancy.
		if ev.f != nil {
			ev.f()
		}
		ran++
		if s.metrics != nil {
			s.metrics.IncEventsFired(string(ev.kind))
		}
	}
}

func (s *eventScheduler) recordPendingLocked() {
	if s.metrics != nil {
		s.metrics.SetPendingEvents(len(s.index))
	}
}
