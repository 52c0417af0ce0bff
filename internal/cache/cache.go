// Package cache implements the network-first asset cache: a versioned
// partition pinned from the manifest and an opportunistic runtime partition
// filled by successful fetches.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timepulse/timepulse/internal/tracing"
	"github.com/timepulse/timepulse/pkg/logger"
)

const (
	offlineAPIMessage  = "You are offline; this action requires a network connection"
	offlinePageMessage = "Network error: you are offline"
	offlineCrossOrigin = "Network error: unable to load resource"
)

// ErrNotOK is returned by Revalidate for a non-2xx network response.
var ErrNotOK = errors.New("network response not ok")

// Request is an outbound asset request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Cache applies the fetch policy over a Storage.
type Cache struct {
	storage Storage
	client  *http.Client
	log     logger.Logger
	tracer  *tracing.Tracer
	now     func() time.Time

	mu       sync.RWMutex
	manifest Manifest
	origin   *url.URL
}

// Option configures a Cache.
type Option func(*Cache)

func WithHTTPClient(c *http.Client) Option {
	return func(ca *Cache) { ca.client = c }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(ca *Cache) { ca.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(ca *Cache) { ca.now = now }
}

// New returns a Cache serving m.
func New(storage Storage, m Manifest, l logger.Logger, opts ...Option) (*Cache, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	origin, _ := url.Parse(m.Origin)
	c := &Cache{
		storage:  storage,
		client:   http.DefaultClient,
		log:      logger.WithPrefix(l, "cache"),
		tracer:   tracing.Nop(),
		now:      time.Now,
		manifest: m,
		origin:   origin,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Manifest returns the active manifest.
func (c *Cache) Manifest() Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest
}

// VersionedName returns the name of the current versioned cache.
func (c *Cache) VersionedName() string {
	return c.Manifest().VersionedName()
}

// RuntimeName returns the name of the current runtime cache.
func (c *Cache) RuntimeName() string {
	return c.Manifest().RuntimeName()
}

// Storage exposes the underlying storage.
func (c *Cache) Storage() Storage {
	return c.storage
}

// Origin returns the application origin without a trailing slash.
func (c *Cache) Origin() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.origin.String(), "/")
}

// Resolve makes ref absolute against the origin.
func (c *Cache) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.origin.ResolveReference(u).String(), nil
}

// ManifestURLs returns the pinned URLs resolved against the origin.
func (c *Cache) ManifestURLs() []string {
	m := c.Manifest()
	out := make([]string, 0, len(m.URLs))
	for _, ref := range m.URLs {
		abs, err := c.Resolve(ref)
		if err != nil {
			c.log.Warning("skipping manifest url %q: %v", ref, err)
			continue
		}
		out = append(out, abs)
	}
	return out
}

func (c *Cache) sameOrigin(u *url.URL) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

// Fetch applies the network-first policy. The error is non-nil only when ctx
// is done; every network failure resolves to a cached or offline response.
func (c *Cache) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return offlineText(http.StatusBadRequest, "text/plain; charset=utf-8", "bad request url"), nil
	}
	same := c.sameOrigin(u)

	e, netErr := c.network(ctx, req, same)
	if netErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Debug("network failed for %s, trying cache: %v", req.URL, netErr)
		if r := c.match(ctx, req.URL); r != nil {
			return r, nil
		}
		return c.offline(ctx, u, same), nil
	}

	if e.Status != http.StatusOK {
		c.log.Debug("status %d for %s, trying cache", e.Status, req.URL)
		if r := c.match(ctx, req.URL); r != nil {
			return r, nil
		}
		return e.response(SourceNetwork), nil
	}

	if req.Method == http.MethodGet {
		if err := c.storage.Put(ctx, c.RuntimeName(), e); err != nil {
			c.log.Warning("failed to cache %s: %v", req.URL, err)
		}
	}
	return e.response(SourceNetwork), nil
}

// network performs the request, reading the whole body into an Entry.
func (c *Cache) network(ctx context.Context, req Request, noCache bool) (*Entry, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if noCache {
		hr.Header.Set("Cache-Control", "no-cache")
		hr.Header.Set("Pragma", "no-cache")
	}
	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Entry{
		URL:      req.URL,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     b,
		StoredAt: c.now(),
	}, nil
}

// Revalidate fetches url from the network bypassing intermediate caches. A
// non-2xx response yields ErrNotOK.
func (c *Cache) Revalidate(ctx context.Context, url string) (*Entry, error) {
	e, err := c.network(ctx, Request{Method: http.MethodGet, URL: url}, true)
	if err != nil {
		return nil, err
	}
	if e.Status < 200 || e.Status > 299 {
		return nil, fmt.Errorf("%w: %d", ErrNotOK, e.Status)
	}
	return e, nil
}

// match looks in the runtime cache, then the versioned cache.
func (c *Cache) match(ctx context.Context, url string) *Response {
	m := c.Manifest()
	for _, tier := range []struct {
		name string
		src  Source
	}{
		{m.RuntimeName(), SourceRuntime},
		{m.VersionedName(), SourceVersioned},
	} {
		e, err := c.storage.Match(ctx, tier.name, url)
		if err != nil {
			c.log.Warning("cache lookup failed in %s: %v", tier.name, err)
			continue
		}
		if e != nil {
			return e.response(tier.src)
		}
	}
	return nil
}

func (c *Cache) offline(ctx context.Context, u *url.URL, same bool) *Response {
	if strings.Contains(u.Path, "/api/") {
		return offlineText(http.StatusServiceUnavailable, "application/json",
			fmt.Sprintf(`{"offline":true,"message":%q}`, offlineAPIMessage))
	}
	if !same {
		return offlineText(http.StatusServiceUnavailable, "text/plain; charset=utf-8", offlineCrossOrigin)
	}
	if page := c.Manifest().OfflinePage; page != "" {
		if abs, err := c.Resolve(page); err == nil {
			if r := c.match(ctx, abs); r != nil {
				r.Source = SourceOffline
				return r
			}
		}
	}
	return offlineText(http.StatusServiceUnavailable, "text/html; charset=utf-8", offlinePageMessage)
}

func offlineText(status int, contentType, body string) *Response {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return &Response{Status: status, Header: h, Body: []byte(body), Source: SourceOffline}
}

// Install fetches every manifest URL and stores the successes in the
// versioned cache. Per-URL failures are logged; the count of stored entries
// is returned.
func (c *Cache) Install(ctx context.Context) (int, error) {
	name := c.VersionedName()
	ctx, span := c.tracer.Start(ctx, "cache.install", attribute.String("cache.name", name))
	c.log.Info("installing %s", name)
	if err := c.storage.Open(ctx, name); err != nil {
		tracing.End(span, err)
		return 0, err
	}
	stored := 0
	for _, u := range c.ManifestURLs() {
		e, err := c.Revalidate(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				tracing.End(span, ctx.Err())
				return stored, ctx.Err()
			}
			c.log.Warning("cannot cache %s: %v", u, err)
			continue
		}
		if err := c.storage.Put(ctx, name, e); err != nil {
			c.log.Warning("failed to store %s: %v", u, err)
			continue
		}
		stored++
	}
	span.SetAttributes(attribute.Int("cache.stored", stored))
	tracing.End(span, nil)
	return stored, nil
}

// Activate deletes every cache that is neither the current versioned nor the
// current runtime cache and returns the purged names.
func (c *Cache) Activate(ctx context.Context) ([]string, error) {
	m := c.Manifest()
	keep := map[string]bool{m.VersionedName(): true, m.RuntimeName(): true}
	names, err := c.storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	var (
		purged []string
		result *multierror.Error
	)
	for _, n := range names {
		if keep[n] {
			continue
		}
		if _, err := c.storage.Delete(ctx, n); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		c.log.Info("deleted old cache %s", n)
		purged = append(purged, n)
	}
	return purged, result.ErrorOrNil()
}

// ClearRuntime deletes the runtime cache wholesale.
func (c *Cache) ClearRuntime(ctx context.Context) error {
	_, err := c.storage.Delete(ctx, c.RuntimeName())
	return err
}

// Upgrade switches to m, installs its assets and purges every other cache.
func (c *Cache) Upgrade(ctx context.Context, m Manifest) ([]string, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	origin, _ := url.Parse(m.Origin)
	c.mu.Lock()
	c.manifest = m
	c.origin = origin
	c.mu.Unlock()
	if _, err := c.Install(ctx); err != nil {
		return nil, err
	}
	return c.Activate(ctx)
}
