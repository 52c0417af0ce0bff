// Package updates compares cached manifest assets with fresh network copies
// and reports which ones changed.
package updates

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/cache"
	"github.com/timepulse/timepulse/internal/tracing"
	"github.com/timepulse/timepulse/pkg/logger"
)

// maxParallel bounds concurrent revalidations.
const maxParallel = 8

// Broadcaster pushes an event to every connected client.
type Broadcaster interface {
	Broadcast(action common.Action, payload any)
}

// Result is the outcome for one URL.
type Result struct {
	URL     string `json:"url"`
	Updated bool   `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// Report is the outcome of one check batch.
type Report struct {
	Timestamp     int64    `json:"timestamp"`
	IsInitialLoad bool     `json:"isInitialLoad"`
	Results       []Result `json:"results"`
}

// UpdatedURLs lists the URLs classified as updated, in manifest order.
func (r Report) UpdatedURLs() []string {
	out := []string{}
	for _, res := range r.Results {
		if res.Updated {
			out = append(out, res.URL)
		}
	}
	return out
}

// HasUpdates reports whether any URL was updated.
func (r Report) HasUpdates() bool {
	return len(r.UpdatedURLs()) > 0
}

// Action returns the broadcast action for the report.
func (r Report) Action() common.Action {
	if r.HasUpdates() {
		return common.CacheUpdatedWithChanges
	}
	return common.CacheChecked
}

// Event returns the broadcast payload for the report.
func (r Report) Event() common.CacheCheckEvent {
	return common.CacheCheckEvent{
		Timestamp:     r.Timestamp,
		HasUpdates:    r.HasUpdates(),
		UpdatedURLs:   r.UpdatedURLs(),
		IsInitialLoad: r.IsInitialLoad,
	}
}

// Checker runs update checks against a cache.
type Checker struct {
	cache  *cache.Cache
	bus    Broadcaster
	log    logger.Logger
	tracer *tracing.Tracer
	now    func() time.Time

	group singleflight.Group
}

// Option configures a Checker.
type Option func(*Checker)

func WithTracer(t *tracing.Tracer) Option {
	return func(c *Checker) { c.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

func New(c *cache.Cache, bus Broadcaster, l logger.Logger, opts ...Option) *Checker {
	ch := &Checker{
		cache:  c,
		bus:    bus,
		log:    logger.WithPrefix(l, "updates"),
		tracer: tracing.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(ch)
	}
	return ch
}

// Check revalidates every manifest URL and broadcasts the outcome.
// Concurrent calls with the same isInitialLoad share one batch.
func (c *Checker) Check(ctx context.Context, isInitialLoad bool) Report {
	v, _, _ := c.group.Do(strconv.FormatBool(isInitialLoad), func() (any, error) {
		r := c.run(ctx, isInitialLoad)
		if c.bus != nil {
			c.bus.Broadcast(r.Action(), r.Event())
		}
		return r, nil
	})
	return v.(Report)
}

func (c *Checker) run(ctx context.Context, isInitialLoad bool) Report {
	ctx, span := c.tracer.Start(ctx, "updates.check", attribute.Bool("updates.initial_load", isInitialLoad))
	urls := c.cache.ManifestURLs()
	results := make([]Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, u := range urls {
		i, u := i, u // per-iteration copy (go < 1.22 loop semantics)
		g.Go(func() error {
			results[i] = c.checkOne(gctx, u)
			return nil
		})
	}
	g.Wait()

	r := Report{Timestamp: c.now().UnixMilli(), IsInitialLoad: isInitialLoad, Results: results}
	span.SetAttributes(attribute.Int("updates.updated", len(r.UpdatedURLs())))
	tracing.End(span, nil)
	if r.HasUpdates() {
		c.log.Info("%d assets updated: %v", len(r.UpdatedURLs()), r.UpdatedURLs())
	} else {
		c.log.Info("check complete, no updates")
	}
	return r
}

func (c *Checker) checkOne(ctx context.Context, url string) Result {
	name := c.cache.VersionedName()
	store := c.cache.Storage()

	cached, err := store.Match(ctx, name, url)
	if err != nil {
		c.log.Warning("check %s: %v", url, err)
		return Result{URL: url, Error: err.Error()}
	}
	fresh, err := c.cache.Revalidate(ctx, url)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, cache.ErrNotOK) {
			msg = cache.ErrNotOK.Error()
		}
		c.log.Warning("check %s: %v", url, err)
		return Result{URL: url, Error: msg}
	}

	updated := Changed(cached, fresh)
	if updated {
		if err := store.Put(ctx, name, fresh); err != nil {
			c.log.Warning("failed to store %s: %v", url, err)
			return Result{URL: url, Updated: true, Error: err.Error()}
		}
	}
	return Result{URL: url, Updated: updated}
}

// Changed classifies fresh against cached: ETag when both carry one, else
// Last-Modified when both carry one, else Content-Length. A missing cached
// entry is always a change.
func Changed(cached, fresh *cache.Entry) bool {
	if cached == nil {
		return true
	}
	if a, b := cached.ETag(), fresh.ETag(); a != "" && b != "" {
		return a != b
	}
	if a, b := cached.LastModified(), fresh.LastModified(); a != "" && b != "" {
		return a != b
	}
	return cached.ContentLength() != fresh.ContentLength()
}
