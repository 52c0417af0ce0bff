package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/app"
	"github.com/timepulse/timepulse/internal/config"
	"github.com/timepulse/timepulse/internal/credentials"
	"github.com/timepulse/timepulse/internal/localstore"
	"github.com/timepulse/timepulse/internal/syncer"
	"github.com/timepulse/timepulse/internal/syncer/remote"
	"github.com/timepulse/timepulse/pkg/agentcli"
	"github.com/timepulse/timepulse/pkg/logger"
)

const (
	localStoreFile = "localstore.json"
	pidFileName    = "agent.pid"
	cacheDBFile    = "cache.db"
	agentLogFile   = "agent.log"
)

// Replaced in tests.
var (
	osFs      afero.Fs  = afero.NewOsFs()
	configDir           = config.DefaultDir
	stderr    io.Writer = os.Stderr
	dialAgent           = dialRunningAgent
	keySource           = func(fsys afero.Fs, dir string) credentials.KeySource {
		return credentials.Chain(credentials.NewKeyring(), credentials.NewFileKeyStore(fsys, dir))
	}
)

// agentClient is the part of agentcli.Client the commands use.
type agentClient interface {
	app.Scheduler
	UpdateCache(ctx context.Context) error
	CheckForUpdates(ctx context.Context, isInitialLoad bool) error
	Status(ctx context.Context) (*common.StatusResult, error)
	Dispatcher() *agentcli.Dispatcher
	Close() error
}

// dialRunningAgent starts the agent when needed and connects to it.
func dialRunningAgent(ctx context.Context, path string) (agentClient, error) {
	if err := agentcli.EnsureAgent(ctx, path); err != nil {
		return nil, err
	}
	c, err := agentcli.Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	c.CheckVersionMismatch(ctx, stderr, currentBuildArgs.Version)
	return c, nil
}

// env is what every command needs: configuration, a logger and the local
// store.
type env struct {
	fs    afero.Fs
	cfg   *config.Config
	log   logger.Logger
	store *localstore.FileStore
}

func loadEnv() (*env, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	if err := osFs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg, err := config.Load(osFs, dir)
	if err != nil {
		return nil, err
	}
	store, err := localstore.Open(osFs, cfg.Path(localStoreFile))
	if err != nil {
		return nil, err
	}
	return &env{
		fs:    osFs,
		cfg:   cfg,
		log:   newLogger(stderr, cfg.Debug),
		store: store,
	}, nil
}

func newLogger(w io.Writer, debug bool) logger.Logger {
	l := log.New(w, "", 0)
	if debug {
		return logger.NewDebugLogger(l)
	}
	return logger.NewStandardLogger(l)
}

func (e *env) credentials() *credentials.Manager {
	return credentials.NewManager(e.store, keySource(e.fs, e.cfg.ConfigDir))
}

// remote returns the configured remote store, or nil when none is set.
func (e *env) remote() remote.Store {
	if e.cfg.Remote.URL == "" {
		return nil
	}
	return remote.NewHTTPStore(e.cfg.Remote.URL, nil, e.cfg.Remote.Timeout)
}

// engine builds the sync engine. Missing or unreadable credentials leave
// it in local-only mode.
func (e *env) engine() *syncer.Engine {
	rs := e.remote()
	var st *credentials.State
	if rs != nil {
		var err error
		st, err = e.credentials().Load()
		if err != nil {
			e.log.Warning("sync credentials unreadable, local-only mode: %v", err)
			st = nil
		}
	}
	return syncer.New(rs, e.store, st, e.log)
}

// session is a booted foreground with its agent connection, if any.
type session struct {
	*app.App
	engine *syncer.Engine
	agent  agentClient
	log    logger.Logger
}

// openSession boots the foreground. With withAgent, an unreachable agent
// is logged and the session continues without notifications; read-only
// commands pass false and never start one.
func (e *env) openSession(ctx context.Context, withAgent bool) (*session, error) {
	s := &session{engine: e.engine(), log: e.log}
	var sched app.Scheduler
	if withAgent {
		if c, err := dialAgent(ctx, e.cfg.SocketPath); err != nil {
			e.log.Warning("agent unavailable, notifications will not be scheduled: %v", err)
		} else {
			s.agent = c
			sched = c
		}
	}
	s.App = app.New(e.store, s.engine, sched, e.log, app.WithClock(timeNow))
	if err := s.Boot(ctx); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// close flushes the pending push and releases the agent connection.
func (s *session) close(ctx context.Context) {
	if err := s.App.Close(ctx); err != nil {
		s.log.Warning("%v", err)
	}
	s.release()
}

func (s *session) release() {
	s.engine.Close()
	if s.agent != nil {
		_ = s.agent.Close()
	}
}
