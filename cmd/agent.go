package cmd

import (
	"context"
	"errors"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
	pcommon "github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/agent"
	"github.com/timepulse/timepulse/internal/cache"
	"github.com/timepulse/timepulse/internal/daemon"
	"github.com/timepulse/timepulse/internal/notify"
	"github.com/timepulse/timepulse/internal/server"
	"github.com/timepulse/timepulse/internal/tracing"
	"github.com/timepulse/timepulse/internal/updates"
	"github.com/timepulse/timepulse/pkg/logger"
)

const notifierAppName = "TimePulse"

func runAgent(ctx *cli.Context) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "agent", "load_env", err)
		return nil
	}
	svc, err := newAgentService(context.Background(), e)
	if err != nil {
		common.PrintRuntimeErr(ctx, "agent", "init", err)
		return nil
	}
	r := daemon.New(daemon.Config{PID: daemon.NewPIDFile(e.fs, e.cfg.Path(pidFileName))}, svc.log)
	err = r.Run(context.Background(), svc)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		common.PrintRuntimeErr(ctx, "agent", "run", err)
		return nil
	}
	return err
}

// agentService holds the agent's components. Everything that does not
// depend on the run context is created up front so that configuration
// errors surface before the pid file is written.
type agentService struct {
	env      *env
	log      logger.Logger
	logFile  afero.File
	tracer   *tracing.Tracer
	storage  cache.Storage
	cache    *cache.Cache
	notifier notify.Notifier
	registry *server.Registry

	agent   *agent.Agent
	server  *server.Server
	watcher *cache.ManifestWatcher
}

var _ daemon.Service = (*agentService)(nil)

// newAgentService assembles the agent. Optional pieces that fail to start
// (SQLite storage, the display service, the manifest watcher) degrade to a
// fallback with a warning.
func newAgentService(ctx context.Context, e *env) (*agentService, error) {
	s := &agentService{env: e, log: e.log}
	if f, err := e.fs.OpenFile(e.cfg.Path(agentLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
		s.logFile = f
		fl := log.New(f, "", log.LstdFlags)
		if e.cfg.Debug {
			s.log = logger.NewMultiLogger(e.log, logger.NewDebugLogger(fl))
		} else {
			s.log = logger.NewMultiLogger(e.log, logger.NewStandardLogger(fl))
		}
	} else {
		e.log.Warning("agent log file unavailable: %v", err)
	}

	tracer, err := tracing.New(ctx, tracing.Config{
		ExporterType: tracing.ExporterType(e.cfg.Tracing.Exporter),
		ServiceName:  "timepulse-agent",
		Version:      currentBuildArgs.Version,
		Output:       stderr,
	})
	if err != nil {
		return nil, err
	}
	s.tracer = tracer

	if st, err := cache.OpenSQLite(e.cfg.Path(cacheDBFile)); err != nil {
		s.log.Warning("cache database unavailable, caching in memory: %v", err)
		s.storage = cache.NewMemoryStorage()
	} else {
		s.storage = st
	}

	m := s.loadManifest()
	c, err := cache.New(s.storage, m, s.log, cache.WithTracer(tracer))
	if err != nil {
		return nil, err
	}
	s.cache = c

	s.notifier = s.newNotifier()
	s.registry = server.NewRegistry(s.log)
	return s, nil
}

// loadManifest reads the manifest, writing the default one when none
// exists so that edits can be picked up by the watcher.
func (s *agentService) loadManifest() cache.Manifest {
	path := s.env.cfg.ManifestPath()
	if ok, _ := afero.Exists(s.env.fs, path); !ok {
		if err := cache.WriteManifest(s.env.fs, path, cache.DefaultManifest()); err != nil {
			s.log.Warning("cannot write default manifest: %v", err)
		}
	}
	m, err := cache.LoadManifest(s.env.fs, path)
	if err != nil {
		s.log.Warning("manifest %s unusable, using defaults: %v", path, err)
		return cache.DefaultManifest()
	}
	return m
}

func (s *agentService) newNotifier() notify.Notifier {
	if s.env.cfg.Notifier == "log" {
		return notify.NewLog(s.log)
	}
	d, err := notify.NewDBus(notifierAppName, s.log)
	if err != nil {
		s.log.Warning("display service unavailable, logging notifications: %v", err)
		return notify.NewLog(s.log)
	}
	return d
}

// Serve starts the scheduler, the bus and the manifest watcher, then
// installs and activates the asset cache in the background.
func (s *agentService) Serve(ctx context.Context) error {
	cfg := s.env.cfg
	s.agent = agent.New(ctx, agent.Config{
		Cache:          s.cache,
		Notifier:       s.notifier,
		Bus:            s.registry,
		Logger:         s.log,
		Version:        currentBuildArgs.Version,
		CheckerOptions: []updates.Option{updates.WithTracer(s.tracer)},
	})
	s.server = server.New(server.Config{
		SocketPath:     cfg.SocketPath,
		HTTPAddr:       net.JoinHostPort(pcommon.TCPHost, strconv.Itoa(cfg.HTTPPort)),
		Secret:         cfg.BusSecret,
		OriginPatterns: originPatterns(s.cache.Manifest()),
		Version:        currentBuildArgs.Version,
	}, s.registry, s.agent, s.cache.Handler(), s.log)

	if w, err := cache.NewManifestWatcher(s.env.fs, cfg.ManifestPath(), s.cache.Manifest(), s.log, func(m cache.Manifest) {
		s.upgrade(ctx, m)
	}); err != nil {
		s.log.Warning("manifest watcher unavailable: %v", err)
	} else {
		s.watcher = w
		w.Start(ctx)
	}

	go s.install(ctx)
	s.log.Info("agent %s listening on %s", currentBuildArgs.Version, cfg.SocketPath)
	return s.server.Start(ctx)
}

func (s *agentService) install(ctx context.Context) {
	n, err := s.cache.Install(ctx)
	if err != nil {
		s.log.Warning("install: %v", err)
		return
	}
	s.log.Info("cached %d assets", n)
	if _, err := s.cache.Activate(ctx); err != nil {
		s.log.Warning("activate: %v", err)
	}
}

// upgrade switches to a new manifest version and tells open instances.
func (s *agentService) upgrade(ctx context.Context, m cache.Manifest) {
	purged, err := s.cache.Upgrade(ctx, m)
	if err != nil {
		s.log.Error("upgrade to %s: %v", m.Version, err)
		return
	}
	s.log.Info("upgraded to %s, purged %d caches", m.Version, len(purged))
	s.registry.Broadcast(pcommon.CacheUpdated, pcommon.CacheUpdatedEvent{
		Timestamp:  time.Now().UnixMilli(),
		HasUpdates: true,
	})
}

// Shutdown releases every component in reverse order of creation.
func (s *agentService) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.agent != nil {
		s.agent.Wait()
	}
	if d, ok := s.notifier.(*notify.DBus); ok {
		if err := d.Shutdown(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.storage.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	s.log.Info("agent stopped")
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
	return result.ErrorOrNil()
}

// originPatterns lets pages of the app origin open the websocket bus.
func originPatterns(m cache.Manifest) []string {
	u, err := url.Parse(m.Origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
