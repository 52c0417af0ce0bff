package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNew_None(t *testing.T) {
	tr, err := New(context.Background(), Config{ExporterType: ExporterNone})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, span := tr.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("expected noop span to have an invalid span context")
	}
	End(span, nil)
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_Unsupported(t *testing.T) {
	if _, err := New(context.Background(), Config{ExporterType: "jaeger"}); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestNew_Stdout(t *testing.T) {
	buf := &bytes.Buffer{}
	tr, err := New(context.Background(), Config{ExporterType: ExporterStdout, Output: buf, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, span := tr.Start(context.Background(), "cache.install", attribute.String("cache.name", "timepulse-v1.2"))
	End(span, errors.New("boom"))
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("cache.install")) {
		t.Fatalf("span name not exported: %s", out)
	}
	if !bytes.Contains([]byte(out), []byte("boom")) {
		t.Fatalf("error not recorded: %s", out)
	}
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	_, span := tr.Start(context.Background(), "x")
	End(span, nil)
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
