package syncer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CollapsesArms(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	var calls, last atomic.Int32
	for i := int32(1); i <= 5; i++ {
		i := i
		d.Arm(func() {
			calls.Add(1)
			last.Store(i)
		})
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Fatalf("expected last armed fn to run, got %d", got)
	}
	if d.Pending() {
		t.Fatal("expected nothing pending after fire")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var calls atomic.Int32
	d.Arm(func() { calls.Add(1) })
	if !d.Cancel() {
		t.Fatal("expected Cancel to report a pending fn")
	}
	if d.Cancel() {
		t.Fatal("second Cancel should report nothing pending")
	}
	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("cancelled fn ran")
	}
}

func TestDebouncer_Flush(t *testing.T) {
	d := NewDebouncer(time.Hour)
	var calls atomic.Int32
	d.Arm(func() { calls.Add(1) })
	if !d.Flush() {
		t.Fatal("expected Flush to run pending fn")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
	if d.Flush() {
		t.Fatal("second Flush should find nothing")
	}
}

func TestDebouncer_ArmAfterFire(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls atomic.Int32
	d.Arm(func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)
	d.Arm(func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
