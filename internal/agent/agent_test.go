package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/cache"
	"github.com/timepulse/timepulse/internal/notify"
	"github.com/timepulse/timepulse/pkg/logger"
)

type sent struct {
	action  common.Action
	payload any
}

type fakeBus struct {
	mu        sync.Mutex
	broadcast []sent
	direct    []sent
	urls      []string
}

func (b *fakeBus) Broadcast(action common.Action, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast = append(b.broadcast, sent{action, payload})
}

func (b *fakeBus) Hello(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, url)
	return nil
}

func (b *fakeBus) Send(match func(string) bool, action common.Action, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.urls {
		if match(u) {
			b.direct = append(b.direct, sent{action, payload})
			return true
		}
	}
	return false
}

func (b *fakeBus) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.urls)
}

func (b *fakeBus) broadcasts() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.broadcast...)
}

func (b *fakeBus) directs() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.direct...)
}

type fixture struct {
	agent    *Agent
	bus      *fakeBus
	notifier *notify.Memory
	opener   *notify.RecordingOpener
	cache    *cache.Cache
	origin   *httptest.Server
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"1"`)
		w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(origin.Close)

	m := cache.DefaultManifest()
	m.Origin = origin.URL
	c, err := cache.New(cache.NewMemoryStorage(), m, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		bus:      &fakeBus{},
		notifier: notify.NewMemory(),
		opener:   &notify.RecordingOpener{},
		cache:    c,
		origin:   origin,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.agent = New(ctx, Config{
		Cache:    c,
		Notifier: f.notifier,
		Opener:   f.opener,
		Bus:      f.bus,
		Logger:   logger.NewNopLogger(),
		Version:  "test",
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) dispatch(t *testing.T, action common.Action, params any) any {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	res, err := f.agent.Dispatch(context.Background(), action, raw)
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T) *common.StatusResult {
	t.Helper()
	res, err := f.agent.Status(context.Background())
	require.NoError(t, err)
	return res
}

func TestDispatch_ScheduleDueFiresWithDefaults(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID:        "c1",
		Title:     "Launch",
		Timestamp: f.now.Add(-time.Second).UnixMilli(),
	})

	// Status round-trips through the scheduler loop.
	assert.Empty(t, f.status(t).ArmedTasks)

	shown := f.notifier.Shown()
	require.Len(t, shown, 1)
	n := shown[0]
	assert.Equal(t, "Launch", n.Title)
	assert.Equal(t, notify.DefaultBody, n.Options.Body)
	assert.Equal(t, "c1", n.Options.Tag)
	assert.True(t, n.Options.RequireInteraction)
	assert.Equal(t, "c1", n.Options.Data[notify.DataCountdownID])
}

func TestDispatch_ScheduleFutureStaysArmed(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "c1", Title: "a", Timestamp: f.now.Add(time.Hour).UnixMilli(),
	})
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "c1", Title: "b", Body: "custom", Timestamp: f.now.Add(2 * time.Hour).UnixMilli(),
	})

	st := f.status(t)
	assert.Equal(t, []string{"c1"}, st.ArmedTasks)
	pending := f.agent.Scheduler().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Title)
	assert.Empty(t, f.notifier.Shown())
}

func TestDispatch_CancelDisarmsAndClosesVisible(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "armed", Title: "a", Timestamp: f.now.Add(time.Hour).UnixMilli(),
	})
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "shown", Title: "b", Timestamp: f.now.Add(-time.Hour).UnixMilli(),
	})
	assert.Equal(t, []string{"armed"}, f.status(t).ArmedTasks)

	f.dispatch(t, common.CancelNotification, common.CancelParams{ID: "armed"})
	f.dispatch(t, common.CancelNotification, common.CancelParams{ID: "shown"})
	f.dispatch(t, common.CancelNotification, common.CancelParams{ID: "shown"})

	assert.Empty(t, f.status(t).ArmedTasks)
	closed := f.notifier.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, "shown", closed[0].Options.Tag)
	assert.Empty(t, f.notifier.QueryByTag("shown"))
}

func TestDispatch_UpdateCacheClearsRuntimeAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storage := f.cache.Storage()
	require.NoError(t, storage.Put(ctx, f.cache.RuntimeName(), &cache.Entry{URL: f.origin.URL + "/x", Status: 200}))
	require.NoError(t, storage.Put(ctx, f.cache.VersionedName(), &cache.Entry{URL: f.origin.URL + "/", Status: 200}))

	f.dispatch(t, common.UpdateCache, struct{}{})

	e, err := storage.Match(ctx, f.cache.RuntimeName(), f.origin.URL+"/x")
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = storage.Match(ctx, f.cache.VersionedName(), f.origin.URL+"/")
	require.NoError(t, err)
	assert.NotNil(t, e, "versioned cache must survive")

	b := f.bus.broadcasts()
	require.Len(t, b, 1)
	assert.Equal(t, common.CacheUpdated, b[0].action)
	assert.Equal(t, common.CacheUpdatedEvent{Timestamp: f.now.UnixMilli(), HasUpdates: true}, b[0].payload)
}

func TestDispatch_CheckForUpdatesBroadcastsReport(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.CheckForUpdates, common.CheckParams{IsInitialLoad: true})
	f.agent.Wait()

	b := f.bus.broadcasts()
	require.Len(t, b, 1)
	assert.Equal(t, common.CacheUpdatedWithChanges, b[0].action)
	ev, ok := b[0].payload.(common.CacheCheckEvent)
	require.True(t, ok)
	assert.True(t, ev.IsInitialLoad)
	assert.True(t, ev.HasUpdates)
	assert.Len(t, ev.UpdatedURLs, len(f.cache.ManifestURLs()))

	// A second check sees identical validators.
	f.dispatch(t, common.CheckForUpdates, common.CheckParams{})
	f.agent.Wait()
	b = f.bus.broadcasts()
	require.Len(t, b, 2)
	assert.Equal(t, common.CacheChecked, b[1].action)
}

func TestDispatch_CheckSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.agent.Dispatch(ctx, common.CheckForUpdates, nil)
	require.NoError(t, err)
	cancel()
	f.agent.Wait()

	b := f.bus.broadcasts()
	require.Len(t, b, 1)
	ev := b[0].payload.(common.CacheCheckEvent)
	assert.True(t, ev.HasUpdates)
}

func TestDispatch_UnknownAndInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agent.Dispatch(ctx, common.Action("reboot"), nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = f.agent.Dispatch(ctx, common.ScheduleNotification, json.RawMessage(`{"id":`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = f.agent.Dispatch(ctx, common.ScheduleNotification, json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = f.agent.Dispatch(ctx, common.CancelNotification, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = f.agent.Dispatch(ctx, common.ClientHello, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDispatchRaw_TaggedShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := []byte(`{"action":"scheduleNotification","id":"t1","title":"Tea","timestamp":` +
		jsonInt(f.now.Add(time.Minute).UnixMilli()) + `}`)
	_, err := f.agent.DispatchRaw(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, f.status(t).ArmedTasks)

	_, err = f.agent.DispatchRaw(ctx, []byte(`{"id":"t1"}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	res, err := f.agent.DispatchRaw(ctx, []byte(`{"action":"agent.status"}`))
	require.NoError(t, err)
	st, ok := res.(*common.StatusResult)
	require.True(t, ok)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, f.cache.Manifest().Version, st.CacheVersion)
}

func TestActivate_FocusesMatchingClient(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.ClientHello, common.HelloParams{URL: "http://elsewhere/"})
	f.dispatch(t, common.ClientHello, common.HelloParams{URL: f.agent.FocusURL("")})
	assert.Equal(t, 2, f.status(t).Clients)

	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "c9", Title: "done", Timestamp: f.now.UnixMilli(),
	})
	f.status(t)
	shown := f.notifier.Shown()
	require.Len(t, shown, 1)

	require.True(t, f.notifier.Click(shown[0].ID))

	d := f.bus.directs()
	require.Len(t, d, 1)
	assert.Equal(t, common.Focus, d[0].action)
	assert.Equal(t, common.FocusEvent{CountdownID: "c9"}, d[0].payload)
	assert.Empty(t, f.opener.URLs())
	assert.Len(t, f.notifier.Closed(), 1)
}

func TestActivate_OpensWhenNoClient(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, common.ScheduleNotification, common.ScheduleParams{
		ID: "c 1", Title: "done", Timestamp: f.now.UnixMilli(),
	})
	f.status(t)
	shown := f.notifier.Shown()
	require.Len(t, shown, 1)
	require.True(t, f.notifier.Click(shown[0].ID))

	assert.Empty(t, f.bus.directs())
	assert.Equal(t, []string{f.origin.URL + "/?id=c+1"}, f.opener.URLs())
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
