// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scheduler drives one-shot, recurring, and absolute-time jobs:
// the expiry sweep, the bandwidth/cert/port-scan monitors, and any
// ad-hoc one-shot deferral (such as the per-block unblock-at-expiry
// callback). It is one of the few process-wide services constructed
// once and passed down explicitly, rather than reached through a
// service locator.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/logging"
)

// Callback is a scheduled job body. The Job ID is passed so the callback
// (and the error sink, on panic) can identify which job ran.
type Callback func(id string)

// ErrorSink receives a job's ID and a recovered panic value. A panicking
// one-shot job is still treated as "fired"; a panicking recurring job is
// logged but continues on its period.
type ErrorSink func(id string, err any)

type job struct {
	id       string
	due      time.Time
	period   time.Duration // zero means one-shot
	cb       Callback
	paused   bool
	canceled bool
	timer    *time.Timer
}

// Scheduler runs jobs against the wall clock using per-job timers rather
// than a single shared tick, so jitter on one job never delays another.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*job
	errorSink ErrorSink
	logger    *logging.Logger
	closed    bool
}

// New creates a Scheduler. sink may be nil.
func New(sink ErrorSink) *Scheduler {
	if sink == nil {
		sink = func(string, any) {}
	}
	return &Scheduler{
		jobs:      make(map[string]*job),
		errorSink: sink,
		logger:    logging.Default().WithComponent("scheduler"),
	}
}

// ScheduleOnce runs cb once after delay and self-cancels.
func (s *Scheduler) ScheduleOnce(delay time.Duration, cb Callback) string {
	return s.ScheduleOnceAt(time.Now().Add(delay), cb)
}

// ScheduleOnceAt runs cb once at the given UTC time and self-cancels.
func (s *Scheduler) ScheduleOnceAt(due time.Time, cb Callback) string {
	id := uuid.NewString()
	j := &job{id: id, due: due, cb: cb}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return id
	}
	s.jobs[id] = j
	s.arm(j)
	return id
}

// ScheduleRecurring runs cb at due, due+period, due+2*period, ... until
// canceled. Drift is tolerated; a slow fire does not coalesce more than one
// missed period.
func (s *Scheduler) ScheduleRecurring(due time.Time, period time.Duration, cb Callback) string {
	id := uuid.NewString()
	j := &job{id: id, due: due, period: period, cb: cb}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return id
	}
	s.jobs[id] = j
	s.arm(j)
	return id
}

// arm must be called with s.mu held. It schedules (or re-schedules) j's
// underlying timer relative to now.
func (s *Scheduler) arm(j *job) {
	if j.canceled || j.paused {
		return
	}
	delay := time.Until(j.due)
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(j.id) })
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.canceled || j.paused {
		s.mu.Unlock()
		return
	}
	cb := j.cb
	recurring := j.period > 0
	if recurring {
		// Advance due by whole periods so a slow fire doesn't cause a
		// burst of immediate catch-up fires; at most one period is
		// coalesced.
		j.due = j.due.Add(j.period)
		if j.due.Before(time.Now()) {
			j.due = time.Now().Add(j.period)
		}
	} else {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.runCallback(id, cb)

	if recurring {
		s.mu.Lock()
		if j, ok := s.jobs[id]; ok && !j.canceled {
			s.arm(j)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runCallback(id string, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			s.errorSink(id, r)
			s.logger.Error("scheduled job panicked", "id", id, "error", r)
		}
	}()
	cb(id)
}

// Pause prevents id from firing until Resume is called. A fire already in
// flight is allowed to complete.
func (s *Scheduler) Pause(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.paused = true
		if j.timer != nil {
			j.timer.Stop()
		}
	}
}

// Resume re-arms a paused job relative to now.
func (s *Scheduler) Resume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.paused {
		return
	}
	j.paused = false
	if j.due.Before(time.Now()) {
		j.due = time.Now()
	}
	s.arm(j)
}

// Cancel stops id's future fires. Cancellation is idempotent: canceling an
// unknown or already-canceled id is a no-op that returns cleanly, and after
// Cancel returns no further fire for id will begin.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.canceled = true
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, id)
	}
}

// CancelAll cancels every job currently known to this Scheduler.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		j.canceled = true
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, id)
	}
}

// ListIDs returns the IDs of every job currently tracked (paused or not).
func (s *Scheduler) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every job and prevents new schedules from being armed. Jobs
// already in flight are allowed to complete.
func (s *Scheduler) Close() {
	s.CancelAll()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Scoped wraps a Scheduler and tracks only jobs created through it, so
// that CancelAll applied to a plugin unwinds only that plugin's jobs.
type Scoped struct {
	inner *Scheduler
	mu    sync.Mutex
	owned map[string]struct{}
}

// NewScoped wraps inner for a single plugin/subsystem's exclusive use.
func NewScoped(inner *Scheduler) *Scoped {
	return &Scoped{inner: inner, owned: make(map[string]struct{})}
}

func (p *Scoped) track(id string) string {
	p.mu.Lock()
	p.owned[id] = struct{}{}
	p.mu.Unlock()
	return id
}

func (p *Scoped) ScheduleOnce(delay time.Duration, cb Callback) string {
	return p.track(p.inner.ScheduleOnce(delay, cb))
}

func (p *Scoped) ScheduleOnceAt(due time.Time, cb Callback) string {
	return p.track(p.inner.ScheduleOnceAt(due, cb))
}

func (p *Scoped) ScheduleRecurring(due time.Time, period time.Duration, cb Callback) string {
	return p.track(p.inner.ScheduleRecurring(due, period, cb))
}

func (p *Scoped) Pause(id string)  { p.inner.Pause(id) }
func (p *Scoped) Resume(id string) { p.inner.Resume(id) }

func (p *Scoped) Cancel(id string) {
	p.inner.Cancel(id)
	p.mu.Lock()
	delete(p.owned, id)
	p.mu.Unlock()
}

// CancelAll cancels only the jobs created through this Scoped instance.
func (p *Scoped) CancelAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.owned))
	for id := range p.owned {
		ids = append(ids, id)
	}
	p.owned = make(map[string]struct{})
	p.mu.Unlock()

	for _, id := range ids {
		p.inner.Cancel(id)
	}
}

// ListIDs returns only the IDs created through this Scoped instance.
func (p *Scoped) ListIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.owned))
	for id := range p.owned {
		ids = append(ids, id)
	}
	return ids
}
