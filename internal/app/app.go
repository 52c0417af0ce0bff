// Package app is the foreground: it owns the timer collection, persists
// every mutation, feeds the sync engine and keeps the agent's notification
// schedule in step with the countdowns.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/localstore"
	"github.com/timepulse/timepulse/internal/syncer"
	"github.com/timepulse/timepulse/internal/timers"
	"github.com/timepulse/timepulse/pkg/logger"
)

// ErrNotBooted is returned by mutations before Boot.
var ErrNotBooted = errors.New("app not booted")

// Scheduler is the agent's notification surface as seen by the foreground.
type Scheduler interface {
	Schedule(ctx context.Context, p common.ScheduleParams) error
	Cancel(ctx context.Context, id string) error
}

// App composes the foreground components. Methods are not safe for
// concurrent use; a foreground process drives one App from one goroutine.
type App struct {
	store  localstore.Store
	engine *syncer.Engine
	sched  Scheduler
	log    logger.Logger
	now    func() time.Time
	opts   []timers.Option

	col    *timers.Collection
	pulled bool
}

// Option configures an App.
type Option func(*App)

// WithClock overrides the clock. It is also handed to the collection.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithTimerOptions passes options through to the timer collection.
func WithTimerOptions(opts ...timers.Option) Option {
	return func(a *App) { a.opts = append(a.opts, opts...) }
}

// New creates an App. sched may be nil when no agent is reachable.
func New(store localstore.Store, engine *syncer.Engine, sched Scheduler, l logger.Logger, opts ...Option) *App {
	if l == nil {
		l = logger.NewNopLogger()
	}
	a := &App{
		store:  store,
		engine: engine,
		sched:  sched,
		log:    logger.WithPrefix(l, "app"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Boot loads the collection, pulls the remote document, replaces an elapsed
// default countdown and re-arms every future countdown with the agent.
// Sync and agent failures are logged; only a local write failure is returned.
func (a *App) Boot(ctx context.Context) error {
	a.col = timers.Load(a.store, append([]timers.Option{timers.WithClock(a.now)}, a.opts...)...)
	local := a.col.Countdowns()

	pulled, err := a.engine.Bootstrap(ctx, a.col)
	if err != nil {
		a.log.Warning("sync bootstrap: %v", err)
	}
	a.pulled = pulled
	if pulled {
		// Countdowns only this device knew about may still be armed.
		for _, r := range local {
			if _, ok := a.col.Get(r.ID); !ok {
				a.cancel(ctx, r.ID)
			}
		}
	}

	refreshed := a.col.RefreshDefault()
	if err := a.col.Save(a.store); err != nil {
		return fmt.Errorf("save timers: %w", err)
	}
	if refreshed {
		a.log.Info("default countdown replaced")
		a.engine.Notify(a.col.Snapshot())
	}

	armed := 0
	for _, r := range a.col.Countdowns() {
		if r.FiresAfter(a.now()) {
			a.schedule(ctx, r)
			armed++
		}
	}
	a.log.Debug("booted with %d timers, %d armed", a.col.Len(), armed)
	return nil
}

// Pulled reports whether Boot replaced the collection with the remote
// document.
func (a *App) Pulled() bool {
	return a.pulled
}

// Collection returns the loaded collection. It is nil before Boot.
func (a *App) Collection() *timers.Collection {
	return a.col
}

// Add inserts or replaces r and makes it active.
func (a *App) Add(ctx context.Context, r timers.Record) (timers.Record, error) {
	if a.col == nil {
		return timers.Record{}, ErrNotBooted
	}
	prev, existed := a.col.Get(r.ID)
	r = a.col.Add(r)
	if err := a.persist(); err != nil {
		return r, err
	}
	a.reconcile(ctx, prev, existed, r)
	return r, nil
}

// Update applies patch to the record with id.
func (a *App) Update(ctx context.Context, id string, patch timers.Patch) (timers.Record, error) {
	if a.col == nil {
		return timers.Record{}, ErrNotBooted
	}
	prev, existed := a.col.Get(id)
	r, err := a.col.Update(id, patch)
	if err != nil {
		return r, err
	}
	if err := a.persist(); err != nil {
		return r, err
	}
	a.reconcile(ctx, prev, existed, r)
	return r, nil
}

// Delete removes the record with id and cancels its notification.
func (a *App) Delete(ctx context.Context, id string) (timers.Record, error) {
	if a.col == nil {
		return timers.Record{}, ErrNotBooted
	}
	last := a.col.Len() == 1
	removed, err := a.col.Delete(id)
	if err != nil {
		return removed, err
	}
	if err := a.persist(); err != nil {
		return removed, err
	}
	if removed.IsCountdown() {
		a.cancel(ctx, removed.ID)
	}
	// Deleting the last record seeds a fresh default.
	if last {
		if d, ok := a.col.Active(); ok {
			a.sync(ctx, d)
		}
	}
	return removed, nil
}

// Select makes id the active record.
func (a *App) Select(ctx context.Context, id string) error {
	if a.col == nil {
		return ErrNotBooted
	}
	if err := a.col.Select(id); err != nil {
		return err
	}
	return a.persist()
}

// RefreshDefault replaces an elapsed default countdown, as Boot does, for
// long-running foregrounds. It reports whether a replacement happened.
func (a *App) RefreshDefault(ctx context.Context) (bool, error) {
	if a.col == nil {
		return false, ErrNotBooted
	}
	if !a.col.RefreshDefault() {
		return false, nil
	}
	if err := a.persist(); err != nil {
		return true, err
	}
	if d, ok := a.col.Get(timers.DefaultID); ok {
		a.sync(ctx, d)
	}
	return true, nil
}

// Close pushes any snapshot still waiting for the debounce window.
func (a *App) Close(ctx context.Context) error {
	if err := a.engine.Flush(ctx); err != nil {
		return fmt.Errorf("sync flush: %w", err)
	}
	return nil
}

// persist writes the collection synchronously and hands the snapshot to the
// sync engine.
func (a *App) persist() error {
	if err := a.col.Save(a.store); err != nil {
		return fmt.Errorf("save timers: %w", err)
	}
	a.engine.Notify(a.col.Snapshot())
	return nil
}

// reconcile is sync for a record that may have replaced prev. A countdown
// turned into another type is disarmed.
func (a *App) reconcile(ctx context.Context, prev timers.Record, existed bool, r timers.Record) {
	if existed && prev.IsCountdown() && !r.IsCountdown() {
		a.cancel(ctx, r.ID)
		return
	}
	a.sync(ctx, r)
}

// sync brings the agent's schedule for r in line with r.
func (a *App) sync(ctx context.Context, r timers.Record) {
	if !r.IsCountdown() {
		return
	}
	if r.FiresAfter(a.now()) {
		a.schedule(ctx, r)
		return
	}
	a.cancel(ctx, r.ID)
}

func (a *App) schedule(ctx context.Context, r timers.Record) {
	if a.sched == nil {
		return
	}
	err := a.sched.Schedule(ctx, common.ScheduleParams{
		ID:        r.ID,
		Title:     r.Name,
		Timestamp: r.TargetDate.UnixMilli(),
	})
	if err != nil {
		a.log.Warning("agent unavailable, %s not scheduled: %v", r.ID, err)
	}
}

func (a *App) cancel(ctx context.Context, id string) {
	if a.sched == nil {
		return
	}
	if err := a.sched.Cancel(ctx, id); err != nil {
		a.log.Warning("agent unavailable, %s not cancelled: %v", id, err)
	}
}
