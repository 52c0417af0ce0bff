package scheduler

import (
	"context"
	"sort"
	"time"
)

// maxSleepCap bounds how long the loop sleeps before re-checking the clock.
const maxSleepCap = 60 * time.Second

// Scheduler runs armed tasks on a background goroutine and hands each one to
// the onFire callback when it is due. Callbacks run on the scheduler
// goroutine and must not call back into the Scheduler synchronously.
type Scheduler struct {
	ops    chan op
	done   chan struct{}
	onFire func(Task)
	now    func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used to decide whether a task is due.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New starts a scheduler that stops when ctx is cancelled.
func New(ctx context.Context, onFire func(Task), opts ...Option) *Scheduler {
	s := &Scheduler{
		ops:    make(chan op, 64),
		done:   make(chan struct{}),
		onFire: onFire,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	go s.run(ctx)
	return s
}

// Schedule arms t, replacing any task with the same ID.
func (s *Scheduler) Schedule(t Task) {
	s.send(op{kind: opSchedule, task: t})
}

// Cancel disarms the task with the given ID. Unknown IDs are ignored.
func (s *Scheduler) Cancel(id string) {
	s.send(op{kind: opCancel, id: id})
}

// Pending returns the armed tasks ordered by fire time. It returns nil once
// the scheduler has stopped.
func (s *Scheduler) Pending() []Task {
	reply := make(chan []Task, 1)
	if !s.send(op{kind: opPending, reply: reply}) {
		return nil
	}
	select {
	case tasks := <-reply:
		return tasks
	case <-s.done:
		return nil
	}
}

// Done is closed when the scheduler goroutine exits.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) send(o op) bool {
	select {
	case s.ops <- o:
		return true
	case <-s.done:
		return false
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	tasks := newArmed()
	timer := time.NewTimer(maxSleepCap)
	defer timer.Stop()

	for {
		s.fireDue(tasks)
		resetTimer(timer, tasks, s.now())

		select {
		case <-ctx.Done():
			return
		case o := <-s.ops:
			s.apply(tasks, o)
		case <-timer.C:
		}
	}
}

func (s *Scheduler) apply(tasks *armed, o op) {
	switch o.kind {
	case opSchedule:
		tasks.put(o.task)
	case opCancel:
		tasks.remove(o.id)
	case opPending:
		s.fireDue(tasks)
		snap := tasks.snapshot()
		sort.Slice(snap, func(i, j int) bool { return snap[i].FireAt.Before(snap[j].FireAt) })
		o.reply <- snap
	}
}

// fireDue pops and fires every task whose time has come.
func (s *Scheduler) fireDue(tasks *armed) {
	now := s.now()
	for {
		next, ok := tasks.peek()
		if !ok || next.FireAt.After(now) {
			return
		}
		tasks.pop()
		if s.onFire != nil {
			s.onFire(next)
		}
	}
}

// resetTimer sets the timer to the earliest fire time or maxSleepCap,
// whichever is sooner.
func resetTimer(timer *time.Timer, tasks *armed, now time.Time) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	d := maxSleepCap
	if next, ok := tasks.peek(); ok {
		d = next.FireAt.Sub(now)
		if d < 0 {
			d = 0
		}
		if d > maxSleepCap {
			d = maxSleepCap
		}
	}
	timer.Reset(d)
}
