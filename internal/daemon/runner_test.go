package daemon

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func waitRunning(t *testing.T, r *Runner, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.IsRunning() != want {
		if time.Now().After(deadline) {
			t.Fatalf("IsRunning never became %v", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_ContextCancelShutsDown(t *testing.T) {
	var shutdowns atomic.Int32
	svc := Funcs{ShutdownFunc: func(context.Context) error {
		shutdowns.Add(1)
		return nil
	}}
	r := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, svc) }()

	waitRunning(t, r, true)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if shutdowns.Load() != 1 {
		t.Errorf("shutdown called %d times, want 1", shutdowns.Load())
	}
	if r.IsRunning() {
		t.Error("still running after Run returned")
	}
}

func TestRunner_StopAndServeError(t *testing.T) {
	r := New(Config{}, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), Funcs{}) }()
	waitRunning(t, r, true)
	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run() after Stop = %v", err)
	}

	boom := errors.New("listen failed")
	err := r.Run(context.Background(), Funcs{ServeFunc: func(context.Context) error { return boom }})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
}

func TestRunner_AlreadyRunning(t *testing.T) {
	r := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx, Funcs{}) }()
	waitRunning(t, r, true)

	if err := r.Run(ctx, Funcs{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestRunner_ShutdownTimeout(t *testing.T) {
	r := New(Config{ShutdownTimeout: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	svc := Funcs{ShutdownFunc: func(context.Context) error {
		time.Sleep(time.Second)
		return nil
	}}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, svc) }()
	waitRunning(t, r, true)
	cancel()
	if err := <-done; !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Run() = %v, want ErrShutdownTimeout", err)
	}
}

func TestRunner_PIDFileLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	pid := NewPIDFile(fs, "/run/agent.pid")
	r := New(Config{PID: pid}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, Funcs{}) }()
	waitRunning(t, r, true)

	got, err := pid.Read()
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if got != os.Getpid() {
		t.Errorf("pid = %d, want %d", got, os.Getpid())
	}
	cancel()
	<-done
	if _, err := pid.Read(); !errors.Is(err, ErrNoPIDFile) {
		t.Errorf("pid file left behind: %v", err)
	}
}

func TestRunner_RefusesLiveForeignPID(t *testing.T) {
	fs := afero.NewMemMapFs()
	pid := NewPIDFile(fs, "/run/agent.pid")
	// The parent process is alive and is not us.
	if err := pid.Write(os.Getppid()); err != nil {
		t.Fatal(err)
	}
	r := New(Config{PID: pid}, nil)
	if err := r.Run(context.Background(), Funcs{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Run() = %v, want ErrAlreadyRunning", err)
	}
}
