// Package daemon runs the background agent as a long-lived process: it
// guards against a second instance with a pid file, turns SIGTERM and
// SIGINT into a graceful shutdown and bounds how long that shutdown takes.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/timepulse/timepulse/pkg/logger"
)

var (
	// ErrAlreadyRunning is returned when another live agent owns the pid file,
	// or when Run is called twice.
	ErrAlreadyRunning = errors.New("agent is already running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultShutdownTimeout bounds a graceful shutdown when Config leaves it zero.
const DefaultShutdownTimeout = 10 * time.Second

// Config holds the runner settings.
type Config struct {
	// PID is the pid file. Nil skips the single-instance guard.
	PID *PIDFile

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// Signals trigger shutdown. Nil means SIGTERM and SIGINT.
	Signals []os.Signal
}

// Service is what the runner drives. Serve blocks until ctx is cancelled or
// the service fails; Shutdown releases everything Serve acquired.
type Service interface {
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Funcs adapts a pair of functions to Service.
type Funcs struct {
	ServeFunc    func(ctx context.Context) error
	ShutdownFunc func(ctx context.Context) error
}

func (f Funcs) Serve(ctx context.Context) error {
	if f.ServeFunc == nil {
		<-ctx.Done()
		return nil
	}
	return f.ServeFunc(ctx)
}

func (f Funcs) Shutdown(ctx context.Context) error {
	if f.ShutdownFunc == nil {
		return nil
	}
	return f.ShutdownFunc(ctx)
}

// Runner manages the agent lifecycle.
type Runner struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a runner.
func New(cfg Config, l logger.Logger) *Runner {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Signals == nil {
		cfg.Signals = []os.Signal{syscall.SIGTERM, os.Interrupt}
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Runner{cfg: cfg, log: logger.WithPrefix(l, "daemon")}
}

// Run serves svc until ctx is cancelled, a configured signal arrives or
// Serve returns. It then calls Shutdown within the timeout and removes the
// pid file.
func (r *Runner) Run(ctx context.Context, svc Service) error {
	if err := r.acquire(); err != nil {
		return err
	}
	defer r.release()

	ctx, stopSignals := signal.NotifyContext(ctx, r.cfg.Signals...)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- svc.Serve(ctx) }()

	var serveErr error
	select {
	case serveErr = <-errc:
		errc = nil
		if serveErr != nil {
			r.log.Error("serve: %v", serveErr)
		}
	case <-ctx.Done():
		r.log.Info("shutting down")
	}
	cancel()

	if err := r.shutdown(svc); err != nil {
		return err
	}
	if errc != nil {
		select {
		case serveErr = <-errc:
		case <-time.After(r.cfg.ShutdownTimeout):
			return ErrShutdownTimeout
		}
	}
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	return serveErr
}

func (r *Runner) shutdown(svc Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Shutdown(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			r.log.Warning("shutdown: %v", err)
		}
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

func (r *Runner) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	if p := r.cfg.PID; p != nil {
		if pid, alive := p.Running(); alive && pid != os.Getpid() {
			return ErrAlreadyRunning
		}
		if err := p.Write(os.Getpid()); err != nil {
			return err
		}
	}
	r.running = true
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.cancel = nil
	if p := r.cfg.PID; p != nil {
		if err := p.Remove(); err != nil {
			r.log.Warning("remove pid file: %v", err)
		}
	}
}

// Stop cancels a running Run. It is a no-op when nothing runs.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// IsRunning reports whether Run is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
