// Package syncer keeps the local timer collection in step with the remote
// store: one pull at boot, debounced whole-document pushes afterwards.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/timepulse/timepulse/internal/credentials"
	"github.com/timepulse/timepulse/internal/localstore"
	"github.com/timepulse/timepulse/internal/syncer/remote"
	"github.com/timepulse/timepulse/internal/timers"
	"github.com/timepulse/timepulse/internal/tracing"
	"github.com/timepulse/timepulse/pkg/logger"
)

const (
	// DefaultDebounce is the quiescence window before a push.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultTTL is the expiry attached to every pushed document.
	DefaultTTL = 30 * 24 * time.Hour
)

// Engine pulls and pushes the timer document. A nil credential state turns
// every operation into a no-op.
type Engine struct {
	remote remote.Store
	store  localstore.Store
	log    logger.Logger
	tracer *tracing.Tracer
	ttl    time.Duration
	now    func() time.Time

	debounce *Debouncer

	credMu sync.RWMutex
	creds  *credentials.State

	syncing atomic.Bool
	// inflight serializes pulls and pushes within the process.
	inflight sync.Mutex

	pendMu  sync.Mutex
	pending *timers.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = NewDebouncer(d) }
}

func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine writing pulled state into store.
func New(rs remote.Store, store localstore.Store, creds *credentials.State, l logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		remote:   rs,
		store:    store,
		creds:    creds,
		log:      logger.WithPrefix(l, "sync"),
		tracer:   tracing.Nop(),
		ttl:      DefaultTTL,
		now:      time.Now,
		debounce: NewDebouncer(DefaultDebounce),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enabled reports whether credentials are configured.
func (e *Engine) Enabled() bool {
	return e.credentials() != nil
}

// Syncing reports whether a pull is in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

func (e *Engine) credentials() *credentials.State {
	e.credMu.RLock()
	defer e.credMu.RUnlock()
	return e.creds
}

// SetCredentials swaps the credentials. Nil disables sync and drops any
// pending push.
func (e *Engine) SetCredentials(st *credentials.State) {
	e.credMu.Lock()
	e.creds = st
	e.credMu.Unlock()
	if st == nil {
		e.debounce.Cancel()
		e.takePending()
	}
}

// Bootstrap pulls the remote document. A non-empty result replaces col
// wholesale and is saved locally. Failures and empty documents leave col
// untouched; the returned error is for reporting only.
func (e *Engine) Bootstrap(ctx context.Context, col *timers.Collection) (bool, error) {
	creds := e.credentials()
	if creds == nil {
		e.log.Debug("no sync credentials, local-only mode")
		return false, nil
	}

	e.inflight.Lock()
	defer e.inflight.Unlock()
	e.syncing.Store(true)
	defer e.syncing.Store(false)

	ctx, span := e.tracer.Start(ctx, "sync.pull", attribute.String("sync.id", shortID(creds.RemoteID)))
	p, err := e.remote.Get(ctx, creds.RemoteID, creds.RemoteSecret)
	if err != nil {
		tracing.End(span, err)
		e.log.Warning("pull from %s... failed, keeping local data: %v", shortID(creds.RemoteID), err)
		return false, fmt.Errorf("pull: %w", err)
	}
	if p == nil || len(p.Timers) == 0 {
		tracing.End(span, nil)
		e.log.Info("remote document empty, keeping local data")
		return false, nil
	}
	span.SetAttributes(attribute.Int("sync.timers", len(p.Timers)))

	col.Replace(p.Snapshot)
	if err := col.Save(e.store); err != nil {
		tracing.End(span, err)
		e.log.Error("failed to persist pulled timers: %v", err)
		return true, fmt.Errorf("persist pulled timers: %w", err)
	}
	tracing.End(span, nil)
	e.log.Info("pulled %d timers, active %q", len(p.Timers), col.ActiveID())
	return true, nil
}

// Notify records snap as the latest local state and re-arms the debounced
// push. It is skipped while a pull is in flight or sync is disabled.
func (e *Engine) Notify(snap timers.Snapshot) {
	if e.credentials() == nil {
		return
	}
	if e.syncing.Load() {
		e.log.Debug("pull in flight, skipping push")
		return
	}
	e.pendMu.Lock()
	e.pending = &snap
	e.pendMu.Unlock()
	e.debounce.Arm(func() {
		if err := e.pushPending(context.Background()); err != nil {
			e.log.Warning("push failed: %v", err)
		}
	})
}

// Flush pushes a pending snapshot immediately instead of waiting for the
// debounce window.
func (e *Engine) Flush(ctx context.Context) error {
	e.debounce.Cancel()
	return e.pushPending(ctx)
}

// Close drops any pending push.
func (e *Engine) Close() {
	e.debounce.Cancel()
	e.takePending()
}

// PushPending reports whether a push is waiting for the debounce window.
func (e *Engine) PushPending() bool {
	return e.debounce.Pending()
}

func (e *Engine) takePending() *timers.Snapshot {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	p := e.pending
	e.pending = nil
	return p
}

func (e *Engine) pushPending(ctx context.Context) error {
	e.inflight.Lock()
	defer e.inflight.Unlock()

	snap := e.takePending()
	creds := e.credentials()
	if snap == nil || creds == nil {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "sync.push",
		attribute.String("sync.id", shortID(creds.RemoteID)),
		attribute.Int("sync.timers", len(snap.Timers)),
	)
	p := remote.Payload{Snapshot: *snap, UpdatedAt: e.now().UnixMilli()}
	err := e.remote.Put(ctx, creds.RemoteID, creds.RemoteSecret, p, e.ttl)
	tracing.End(span, err)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	e.log.Info("pushed %d timers, active %q", len(snap.Timers), snap.ActiveTimerID)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
