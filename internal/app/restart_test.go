package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/agent"
	"github.com/timepulse/timepulse/internal/cache"
	"github.com/timepulse/timepulse/internal/notify"
	"github.com/timepulse/timepulse/internal/scheduler"
	"github.com/timepulse/timepulse/internal/timers"
	"github.com/timepulse/timepulse/pkg/logger"
)

// dispatchScheduler sends the foreground's calls straight into an agent's
// dispatcher, as the bus would.
type dispatchScheduler struct {
	agent *agent.Agent
}

func (d dispatchScheduler) Schedule(ctx context.Context, p common.ScheduleParams) error {
	return d.send(ctx, common.ScheduleNotification, p)
}

func (d dispatchScheduler) Cancel(ctx context.Context, id string) error {
	return d.send(ctx, common.CancelNotification, common.CancelParams{ID: id})
}

func (d dispatchScheduler) send(ctx context.Context, action common.Action, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = d.agent.Dispatch(ctx, action, raw)
	return err
}

type nopBus struct{}

func (nopBus) Broadcast(common.Action, any)                    {}
func (nopBus) Hello(context.Context, string) error             { return nil }
func (nopBus) Send(func(string) bool, common.Action, any) bool { return false }
func (nopBus) Clients() int                                    { return 0 }

type agentClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *agentClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *agentClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func startAgent(t *testing.T, clock *agentClock) (*agent.Agent, *notify.Memory, context.CancelFunc) {
	t.Helper()
	c, err := cache.New(cache.NewMemoryStorage(), cache.DefaultManifest(), logger.NewNopLogger())
	require.NoError(t, err)
	n := notify.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a := agent.New(ctx, agent.Config{
		Cache:    c,
		Notifier: n,
		Opener:   &notify.RecordingOpener{},
		Bus:      nopBus{},
		Version:  "test",
		Now:      clock.Now,
	})
	return a, n, cancel
}

func taskIDs(tasks []scheduler.Task) []string {
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestAgentRestart_RebootRearmsCountdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clock := &agentClock{now: h.now}

	first, _, stop := startAgent(t, clock)
	fg := h.appWith(t, nil, dispatchScheduler{first})
	require.NoError(t, fg.Boot(ctx))
	r, err := fg.Add(ctx, timers.Record{Name: "Launch", TargetDate: at(h.now.Add(time.Hour))})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{timers.DefaultID, r.ID}, taskIDs(first.Scheduler().Pending()))

	// The agent goes away between schedule and fire: its table is lost.
	stop()
	<-first.Scheduler().Done()
	assert.Nil(t, first.Scheduler().Pending())

	second, shown, _ := startAgent(t, clock)
	assert.Empty(t, second.Scheduler().Pending())

	fg = h.appWith(t, nil, dispatchScheduler{second})
	require.NoError(t, fg.Boot(ctx))
	assert.ElementsMatch(t, []string{timers.DefaultID, r.ID}, taskIDs(second.Scheduler().Pending()))

	clock.Set(r.TargetDate.Add(time.Second))
	assert.Equal(t, []string{timers.DefaultID}, taskIDs(second.Scheduler().Pending()))
	require.Len(t, shown.Shown(), 1)
	assert.Equal(t, r.ID, shown.Shown()[0].Options.Tag)

	// Nothing fires twice.
	second.Scheduler().Pending()
	assert.Len(t, shown.Shown(), 1)
}
