package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/credentials"
	"github.com/timepulse/timepulse/internal/localstore"
	"github.com/timepulse/timepulse/internal/timers"
	"github.com/timepulse/timepulse/pkg/agentcli"
)

const testConfigDir = "/cfg"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeAgent struct {
	mu        sync.Mutex
	scheduled []common.ScheduleParams
	cancelled []string
	closed    bool
	disp      *agentcli.Dispatcher
	status    *common.StatusResult
	check     common.CacheCheckEvent
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{disp: agentcli.NewDispatcher()}
}

func (f *fakeAgent) Schedule(_ context.Context, p common.ScheduleParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, p)
	return nil
}

func (f *fakeAgent) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeAgent) push(action common.Action, v any) {
	b, _ := json.Marshal(v)
	f.disp.Dispatch(action, b)
}

func (f *fakeAgent) UpdateCache(context.Context) error {
	f.push(common.CacheUpdated, common.CacheUpdatedEvent{Timestamp: testNow.UnixMilli(), HasUpdates: true})
	return nil
}

func (f *fakeAgent) CheckForUpdates(_ context.Context, isInitialLoad bool) error {
	ev := f.check
	ev.IsInitialLoad = isInitialLoad
	action := common.CacheChecked
	if ev.HasUpdates {
		action = common.CacheUpdatedWithChanges
	}
	f.push(action, ev)
	return nil
}

func (f *fakeAgent) Status(context.Context) (*common.StatusResult, error) {
	if f.status == nil {
		return nil, errors.New("no status")
	}
	return f.status, nil
}

func (f *fakeAgent) Dispatcher() *agentcli.Dispatcher { return f.disp }

func (f *fakeAgent) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAgent) scheduledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, p := range f.scheduled {
		ids = append(ids, p.ID)
	}
	return ids
}

type testEnv struct {
	fs    afero.Fs
	agent *fakeAgent
	dials int
}

// setupTest points every command at an in-memory file system, a fixed
// clock and a fake agent.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	for _, k := range []string{common.RemoteURLEnv, common.SocketPathEnv, common.HTTPPortEnv, common.BusSecretEnv, common.DebugEnv} {
		t.Setenv(k, "")
	}
	te := &testEnv{fs: afero.NewMemMapFs(), agent: newFakeAgent()}

	origFs, origDir, origErr, origDial, origKeys, origNow := osFs, configDir, stderr, dialAgent, keySource, timeNow
	t.Cleanup(func() {
		osFs, configDir, stderr, dialAgent, keySource, timeNow = origFs, origDir, origErr, origDial, origKeys, origNow
	})
	osFs = te.fs
	configDir = func() (string, error) { return testConfigDir, nil }
	stderr = io.Discard
	dialAgent = func(context.Context, string) (agentClient, error) {
		te.dials++
		return te.agent, nil
	}
	keySource = func(fsys afero.Fs, dir string) credentials.KeySource {
		return credentials.NewFileKeyStore(fsys, dir)
	}
	timeNow = func() time.Time { return testNow }
	return te
}

// run executes the CLI and returns what it wrote to the app writer.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	a := newApp(BuildArgs{Version: "test", BuildType: "dev"})
	a.Writer = &buf
	a.ErrWriter = &buf
	require.NoError(t, a.Run(append([]string{"timepulse"}, args...)))
	return buf.String()
}

func (te *testEnv) collection(t *testing.T) *timers.Collection {
	t.Helper()
	store, err := localstore.Open(te.fs, testConfigDir+"/"+localStoreFile)
	require.NoError(t, err)
	return timers.Load(store, timers.WithClock(func() time.Time { return testNow }))
}

func (te *testEnv) find(t *testing.T, name string) timers.Record {
	t.Helper()
	for _, r := range te.collection(t).Timers() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no timer named %q", name)
	return timers.Record{}
}
