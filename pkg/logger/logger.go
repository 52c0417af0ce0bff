// Package logger provides the logging interface shared by the TimePulse agent
// and the foreground commands. Every component receives a Logger and tags its
// lines with a component prefix such as "[sync]" or "[agent]".
package logger

import (
	"fmt"
	"log"
	"sync"
)

// Logger defines the logging contract used across all TimePulse components.
type Logger interface {
	// Debug logs a diagnostic message. Backends may drop it unless debug
	// output was requested.
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "agent listening on ...").
	Info(format string, args ...interface{})

	// Warning logs a recoverable problem (e.g., "push failed, keeping local state").
	Warning(format string, args ...interface{})

	// Error logs a failure that aborted an operation.
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug lines are discarded.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// NewDebugLogger is NewStandardLogger with Debug output enabled.
func NewDebugLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l, debug: true}
}

// Debug logs with a [DEBUG] prefix when enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op for StandardLogger.
func (s *StandardLogger) Close() error {
	return nil
}

// prefixed decorates every line of an underlying Logger with a component tag.
type prefixed struct {
	Logger
	prefix string
}

// WithPrefix returns a Logger that prepends "[prefix] " to each message.
// A nil base yields a NopLogger.
func WithPrefix(base Logger, prefix string) Logger {
	if base == nil {
		return NewNopLogger()
	}
	return &prefixed{Logger: base, prefix: "[" + prefix + "] "}
}

func (p *prefixed) Debug(format string, args ...interface{}) {
	p.Logger.Debug(p.prefix+format, args...)
}

func (p *prefixed) Info(format string, args ...interface{}) {
	p.Logger.Info(p.prefix+format, args...)
}

func (p *prefixed) Warning(format string, args ...interface{}) {
	p.Logger.Warning(p.prefix+format, args...)
}

func (p *prefixed) Error(format string, args ...interface{}) {
	p.Logger.Error(p.prefix+format, args...)
}

// NopLogger discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}
func (n *NopLogger) Close() error                               { return nil }

// MockLogger records every call for verification in tests.
// It is safe for concurrent use since most components log from goroutines.
type MockLogger struct {
	mu           sync.Mutex
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(dst *[]string, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.DebugCalls, format, args...)
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.InfoCalls, format, args...)
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.WarningCalls, format, args...)
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.ErrorCalls, format, args...)
}

// Errors returns a copy of the recorded Error lines.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Warnings returns a copy of the recorded Warning lines.
func (m *MockLogger) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WarningCalls...)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// ToStdLogger adapts a Logger to a *log.Logger writing at Info level.
// Used for libraries that only accept the stdlib type.
func ToStdLogger(l Logger) *log.Logger {
	return log.New(writerFunc(func(p []byte) (int, error) {
		msg := string(p)
		if n := len(msg); n > 0 && msg[n-1] == '\n' {
			msg = msg[:n-1]
		}
		l.Info("%s", msg)
		return len(p), nil
	}), "", 0)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*MockLogger)(nil)
	_ Logger = (*prefixed)(nil)
)
