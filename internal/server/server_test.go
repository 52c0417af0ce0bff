package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/agent"
	"github.com/timepulse/timepulse/pkg/agentcli"
	"github.com/timepulse/timepulse/pkg/logger"
)

const testSecret = "bus-test-secret"

type fakeDispatcher struct {
	reg *Registry

	mu      sync.Mutex
	actions []common.Action
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, action common.Action, params json.RawMessage) (any, error) {
	d.mu.Lock()
	d.actions = append(d.actions, action)
	d.mu.Unlock()

	switch action {
	case common.ClientHello:
		var p common.HelloParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", agent.ErrInvalidParams, err)
		}
		return nil, d.reg.Hello(ctx, p.URL)
	case common.AgentStatus:
		return &common.StatusResult{Version: "test", Clients: d.reg.Clients()}, nil
	case common.ScheduleNotification:
		var p common.ScheduleParams
		_ = json.Unmarshal(params, &p)
		if p.ID == "" {
			return nil, fmt.Errorf("%w: missing id", agent.ErrInvalidParams)
		}
	}
	return nil, nil
}

func (d *fakeDispatcher) DispatchRaw(ctx context.Context, b []byte) (any, error) {
	msg, err := common.ParseMessage(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidParams, err)
	}
	return d.Dispatch(ctx, msg.Action, msg.Raw)
}

func (d *fakeDispatcher) seen() []common.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]common.Action(nil), d.actions...)
}

type testBus struct {
	srv  *Server
	reg  *Registry
	disp *fakeDispatcher
	sock string
	base string
}

func newTestBus(t *testing.T) *testBus {
	t.Helper()
	reg := NewRegistry(logger.NewNopLogger())
	disp := &fakeDispatcher{reg: reg}
	sock := filepath.Join(t.TempDir(), "bus.sock")
	assets := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset " + r.URL.Path))
	})
	srv := New(Config{
		SocketPath: sock,
		HTTPAddr:   "127.0.0.1:0",
		Secret:     testSecret,
		Version:    "1.0.0",
	}, reg, disp, assets, logger.NewNopLogger())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := srv.Shutdown(); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return &testBus{srv: srv, reg: reg, disp: disp, sock: sock, base: "http://" + srv.Addr()}
}

type pushes struct {
	ch chan *jrpc2.Request
}

func (p *pushes) next(t *testing.T) *jrpc2.Request {
	t.Helper()
	select {
	case req := <-p.ch:
		return req
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for push")
		return nil
	}
}

func dialUnix(t *testing.T, path string) (*jrpc2.Client, *pushes) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p := &pushes{ch: make(chan *jrpc2.Request, 8)}
	cli := jrpc2.NewClient(channel.Line(conn, conn), &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) { p.ch <- req },
	})
	t.Cleanup(func() { cli.Close() })
	return cli, p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestUnixSocket_NotificationsThenCall(t *testing.T) {
	b := newTestBus(t)
	cli, _ := dialUnix(t, b.sock)
	ctx := context.Background()

	if err := cli.Notify(ctx, string(common.ScheduleNotification), common.ScheduleParams{ID: "a", Timestamp: 1}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := cli.Notify(ctx, string(common.CancelNotification), common.CancelParams{ID: "a"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	var st common.StatusResult
	if err := cli.CallResult(ctx, string(common.AgentStatus), nil, &st); err != nil {
		t.Fatalf("CallResult: %v", err)
	}
	if st.Version != "test" || st.Clients != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	want := []common.Action{common.ScheduleNotification, common.CancelNotification, common.AgentStatus}
	got := b.disp.seen()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestUnixSocket_ErrorCodes(t *testing.T) {
	b := newTestBus(t)
	cli, _ := dialUnix(t, b.sock)
	ctx := context.Background()

	_, err := cli.Call(ctx, string(common.ScheduleNotification), common.ScheduleParams{Title: "no id"})
	var rerr *jrpc2.Error
	if !errors.As(err, &rerr) || rerr.Code != codeInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}

	_, err = cli.Call(ctx, "download.add", nil)
	if !errors.As(err, &rerr) || rerr.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}
}

func TestUnixSocket_TaggedMessage(t *testing.T) {
	b := newTestBus(t)
	cli, _ := dialUnix(t, b.sock)

	var st common.StatusResult
	err := cli.CallResult(context.Background(), MethodMessage, map[string]any{"action": "agent.status"}, &st)
	if err != nil {
		t.Fatalf("CallResult: %v", err)
	}
	if st.Version != "test" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestUnixSocket_HelloThenFocusPush(t *testing.T) {
	b := newTestBus(t)
	app, appPushes := dialUnix(t, b.sock)
	other, otherPushes := dialUnix(t, b.sock)
	ctx := context.Background()

	if _, err := app.Call(ctx, string(common.ClientHello), common.HelloParams{URL: "http://localhost:3000/"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := other.Call(ctx, string(common.ClientHello), common.HelloParams{URL: "http://elsewhere/"}); err != nil {
		t.Fatalf("hello: %v", err)
	}

	ok := b.reg.Send(func(u string) bool { return u == "http://localhost:3000/" },
		common.Focus, common.FocusEvent{CountdownID: "c1"})
	if !ok {
		t.Fatal("expected Send to find the matching client")
	}
	req := appPushes.next(t)
	if req.Method() != string(common.Focus) {
		t.Fatalf("expected focus push, got %s", req.Method())
	}
	var ev common.FocusEvent
	if err := req.UnmarshalParams(&ev); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	if ev.CountdownID != "c1" {
		t.Fatalf("unexpected focus payload: %+v", ev)
	}
	select {
	case r := <-otherPushes.ch:
		t.Fatalf("non-matching client received %s", r.Method())
	case <-time.After(100 * time.Millisecond):
	}

	if b.reg.Send(func(string) bool { return false }, common.Focus, nil) {
		t.Fatal("Send without a match must report false")
	}

	b.reg.Broadcast(common.CacheChecked, common.CacheCheckEvent{UpdatedURLs: []string{}})
	for _, p := range []*pushes{appPushes, otherPushes} {
		if m := p.next(t).Method(); m != string(common.CacheChecked) {
			t.Fatalf("expected cacheChecked, got %s", m)
		}
	}
}

func TestUnixSocket_DisconnectUnregisters(t *testing.T) {
	b := newTestBus(t)
	cli, _ := dialUnix(t, b.sock)
	waitFor(t, func() bool { return b.reg.Clients() == 1 })
	cli.Close()
	waitFor(t, func() bool { return b.reg.Clients() == 0 })
}

func TestHTTP_AssetsAndBridge(t *testing.T) {
	b := newTestBus(t)

	resp, err := http.Get(b.base + "/favicon.ico")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "asset /favicon.ico" {
		t.Fatalf("unexpected asset body %q", body)
	}

	call := func(auth string, payload string) (*http.Response, map[string]any) {
		req, _ := http.NewRequest(http.MethodPost, b.base+"/jsonrpc", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp, out
	}

	resp, _ = call("", `{"jsonrpc":"2.0","id":1,"method":"agent.status"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, out := call(testSecret, `{"jsonrpc":"2.0","id":1,"method":"agent.status"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	result, ok := out["result"].(map[string]any)
	if !ok || result["version"] != "test" {
		t.Fatalf("unexpected bridge result: %v", out)
	}

	// A bridge call has no persistent connection to push to.
	_, out = call(testSecret, `{"jsonrpc":"2.0","id":2,"method":"client.hello","params":{"url":"http://x/"}}`)
	errObj, ok := out["error"].(map[string]any)
	if !ok || errObj["code"].(float64) != float64(codeInvalidParams) {
		t.Fatalf("expected hello over bridge to fail, got %v", out)
	}
}

func TestWebSocket_AuthAndPush(t *testing.T) {
	b := newTestBus(t)
	wsURL := "ws" + strings.TrimPrefix(b.base, "http") + "/jsonrpc/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := cws.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected unauthorized websocket dial to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	conn, _, err := cws.Dial(ctx, wsURL+"?token="+testSecret, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	p := &pushes{ch: make(chan *jrpc2.Request, 8)}
	cli := jrpc2.NewClient(agentcli.NewWSChannel(ctx, conn), &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) { p.ch <- req },
	})
	defer cli.Close()

	var v VersionResult
	if err := cli.CallResult(ctx, MethodVersion, nil, &v); err != nil {
		t.Fatalf("version: %v", err)
	}
	if v.Version != "1.0.0" {
		t.Fatalf("unexpected version %q", v.Version)
	}

	b.reg.Broadcast(common.CacheUpdated, common.CacheUpdatedEvent{Timestamp: 7, HasUpdates: true})
	req := p.next(t)
	var ev common.CacheUpdatedEvent
	if err := req.UnmarshalParams(&ev); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	if req.Method() != string(common.CacheUpdated) || ev.Timestamp != 7 || !ev.HasUpdates {
		t.Fatalf("unexpected push %s %+v", req.Method(), ev)
	}

	cli.Close()
	waitFor(t, func() bool { return b.reg.Clients() == 0 })
}

func TestShutdown_RemovesSocket(t *testing.T) {
	reg := NewRegistry(nil)
	sock := filepath.Join(t.TempDir(), "bus.sock")
	srv := New(Config{SocketPath: sock}, reg, &fakeDispatcher{reg: reg}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	waitFor(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	})
	if srv.Addr() != "" {
		t.Fatalf("expected no HTTP listener, got %s", srv.Addr())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	waitFor(t, func() bool {
		_, err := os.Stat(sock)
		return os.IsNotExist(err)
	})
}

func TestHandler_NoSecretDisablesRPC(t *testing.T) {
	reg := NewRegistry(nil)
	srv := New(Config{}, reg, &fakeDispatcher{reg: reg}, nil, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jsonrpc", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a secret, got %d", rr.Code)
	}
}
