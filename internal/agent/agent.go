// Package agent is the background execution context: it owns the asset
// cache, the update checker and the notification scheduler, and dispatches
// bus messages to them.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/cache"
	"github.com/timepulse/timepulse/internal/notify"
	"github.com/timepulse/timepulse/internal/scheduler"
	"github.com/timepulse/timepulse/internal/updates"
	"github.com/timepulse/timepulse/pkg/logger"
)

var (
	// ErrUnknownAction is returned for actions outside the inbound set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidParams is returned when a payload cannot be decoded or
	// misses a required field.
	ErrInvalidParams = errors.New("invalid params")
)

// showTimeout bounds a single call into the display backend.
const showTimeout = 10 * time.Second

// Bus is the agent's view of the connected foreground instances.
type Bus interface {
	// Broadcast pushes a message to every connected instance.
	Broadcast(action common.Action, payload any)
	// Hello records the URL of the instance that owns ctx.
	Hello(ctx context.Context, url string) error
	// Send pushes a message to the first instance whose URL satisfies
	// match and reports whether one was found.
	Send(match func(url string) bool, action common.Action, payload any) bool
	// Clients returns the number of connected instances.
	Clients() int
}

// Config holds the collaborators of an Agent.
type Config struct {
	Cache    *cache.Cache
	Notifier notify.Notifier
	Opener   notify.Opener
	Bus      Bus
	Logger   logger.Logger
	Version  string

	// CheckerOptions are passed through to the update checker.
	CheckerOptions []updates.Option
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Agent dispatches inbound actions. Create with New.
type Agent struct {
	cache    *cache.Cache
	checker  *updates.Checker
	sched    *scheduler.Scheduler
	notifier notify.Notifier
	opener   notify.Opener
	bus      Bus
	log      logger.Logger
	version  string
	now      func() time.Time

	// background tracks detached update checks.
	background sync.WaitGroup
}

// New wires an agent and starts its scheduler. The scheduler stops when
// ctx is cancelled.
func New(ctx context.Context, cfg Config) *Agent {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opener := cfg.Opener
	if opener == nil {
		opener = notify.BrowserOpener{}
	}
	a := &Agent{
		cache:    cfg.Cache,
		notifier: cfg.Notifier,
		opener:   opener,
		bus:      cfg.Bus,
		log:      logger.WithPrefix(l, "agent"),
		version:  cfg.Version,
		now:      now,
	}
	opts := append([]updates.Option{updates.WithClock(now)}, cfg.CheckerOptions...)
	a.checker = updates.New(cfg.Cache, cfg.Bus, l, opts...)
	a.sched = scheduler.New(ctx, a.fire, scheduler.WithClock(now))
	cfg.Notifier.OnActivate(a.activate)
	return a
}

// Scheduler exposes the notification scheduler.
func (a *Agent) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Checker exposes the update checker.
func (a *Agent) Checker() *updates.Checker {
	return a.checker
}

// Wait blocks until detached update checks have finished.
func (a *Agent) Wait() {
	a.background.Wait()
}

// DispatchRaw handles a message in the tagged shape
// {"action": "...", ...fields}.
func (a *Agent) DispatchRaw(ctx context.Context, b []byte) (any, error) {
	msg, err := common.ParseMessage(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return a.Dispatch(ctx, msg.Action, msg.Raw)
}

// Dispatch routes one inbound action. Only agent.status returns a result;
// the other actions return nil on success.
func (a *Agent) Dispatch(ctx context.Context, action common.Action, params json.RawMessage) (any, error) {
	switch action {
	case common.ScheduleNotification:
		var p common.ScheduleParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.schedule(p)
	case common.CancelNotification:
		var p common.CancelParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.cancel(ctx, p)
	case common.UpdateCache:
		return nil, a.updateCache(ctx)
	case common.CheckForUpdates:
		var p common.CheckParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		a.checkForUpdates(ctx, p)
		return nil, nil
	case common.ClientHello:
		var p common.HelloParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, fmt.Errorf("%w: missing url", ErrInvalidParams)
		}
		return nil, a.bus.Hello(ctx, p.URL)
	case common.AgentStatus:
		return a.Status(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func (a *Agent) schedule(p common.ScheduleParams) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidParams)
	}
	task := scheduler.TaskFromMillis(p.ID, p.Title, p.Body, p.Timestamp)
	a.log.Debug("arming %s at %s", p.ID, task.FireAt.Format(time.RFC3339))
	a.sched.Schedule(task)
	return nil
}

func (a *Agent) cancel(ctx context.Context, p common.CancelParams) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidParams)
	}
	a.sched.Cancel(p.ID)
	if _, err := notify.CloseByTag(ctx, a.notifier, p.ID); err != nil {
		a.log.Warning("closing notifications for %s: %v", p.ID, err)
	}
	return nil
}

func (a *Agent) updateCache(ctx context.Context) error {
	if err := a.cache.ClearRuntime(ctx); err != nil {
		return fmt.Errorf("clear runtime cache: %w", err)
	}
	a.bus.Broadcast(common.CacheUpdated, common.CacheUpdatedEvent{
		Timestamp:  a.now().UnixMilli(),
		HasUpdates: true,
	})
	return nil
}

// checkForUpdates runs detached from the caller so a client that sends the
// message and disconnects does not abort the check.
func (a *Agent) checkForUpdates(ctx context.Context, p common.CheckParams) {
	ctx = context.WithoutCancel(ctx)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		report := a.checker.Check(ctx, p.IsInitialLoad)
		a.log.Debug("update check: %d urls, %d updated", len(report.Results), len(report.UpdatedURLs()))
	}()
}

// Status reports the agent's state.
func (a *Agent) Status(ctx context.Context) (*common.StatusResult, error) {
	names, err := a.cache.Storage().Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	pending := a.sched.Pending()
	armed := make([]string, 0, len(pending))
	for _, t := range pending {
		armed = append(armed, t.ID)
	}
	return &common.StatusResult{
		Version:      a.version,
		CacheVersion: a.cache.Manifest().Version,
		Caches:       names,
		ArmedTasks:   armed,
		Clients:      a.bus.Clients(),
	}, nil
}

// fire runs on the scheduler goroutine.
func (a *Agent) fire(t scheduler.Task) {
	body := t.Body
	if body == "" {
		body = notify.DefaultBody
	}
	ctx, cancel := context.WithTimeout(context.Background(), showTimeout)
	defer cancel()
	_, err := a.notifier.Show(ctx, t.Title, notify.Options{
		Body:               body,
		Tag:                t.ID,
		RequireInteraction: true,
		Data:               map[string]string{notify.DataCountdownID: t.ID},
	})
	if err != nil {
		a.log.Error("showing notification %s: %v", t.ID, err)
		return
	}
	a.log.Info("notification fired: %s", t.ID)
}

// FocusURL returns the URL that brings countdown id to the front.
func (a *Agent) FocusURL(id string) string {
	target := strings.TrimRight(a.cache.Origin(), "/") + "/"
	if id != "" {
		target += "?id=" + url.QueryEscape(id)
	}
	return target
}

func (a *Agent) activate(n notify.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), showTimeout)
	defer cancel()
	if err := a.notifier.Close(ctx, n); err != nil {
		a.log.Debug("closing activated notification: %v", err)
	}

	id := n.Options.Data[notify.DataCountdownID]
	target := a.FocusURL(id)
	root := a.FocusURL("")
	match := func(u string) bool { return u == target || u == root }
	if a.bus.Send(match, common.Focus, common.FocusEvent{CountdownID: id}) {
		return
	}
	if err := a.opener.Open(ctx, target); err != nil {
		a.log.Error("opening %s: %v", target, err)
	}
}
