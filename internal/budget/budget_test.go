package budget

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	neg := -1
	cfg := Config{MaxCalls: &neg}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	d := -time.Second
	cfg = Config{MaxTime: &d}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected time validation error")
	}
	if err := Calls(5).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeOnlyTightensCalls(t *testing.T) {
	base := Calls(5)
	merged := Merge(base, Calls(9))
	if *merged.MaxCalls != 5 {
		t.Fatalf("override must not raise the call cap, got %d", *merged.MaxCalls)
	}
	merged = Merge(base, Calls(2))
	if *merged.MaxCalls != 2 {
		t.Fatalf("expected tightened cap 2, got %d", *merged.MaxCalls)
	}
	// ensure clone
	*merged.MaxCalls = 100
	if *base.MaxCalls != 5 {
		t.Fatalf("base should be isolated from merged config")
	}
	if !(Config{}).IsZero() || Calls(0).IsZero() {
		t.Fatalf("IsZero mismatch")
	}
}

func TestMonitorReserveNeverExceedsCap(t *testing.T) {
	mon := NewMonitor(Calls(5))
	for i := 0; i < 5; i++ {
		if err := mon.Reserve(); err != nil {
			t.Fatalf("reserve %d: unexpected error: %v", i, err)
		}
	}
	err := mon.Reserve()
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if exceeded.Kind != "calls" || exceeded.Limit != "5 calls" {
		t.Fatalf("unexpected error payload: %+v", exceeded)
	}
	if calls, _ := mon.Usage(); calls != 5 {
		t.Fatalf("rejected reservation must not be counted, got %d", calls)
	}
	if mon.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", mon.Remaining())
	}
}

func TestMonitorConcurrentReserve(t *testing.T) {
	mon := NewMonitor(Calls(10))
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if mon.Reserve() == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 10 {
		t.Fatalf("expected exactly 10 grants, got %d", granted)
	}
}

func TestMonitorUnboundedAndTime(t *testing.T) {
	mon := NewMonitor(Config{})
	if mon.Remaining() != -1 {
		t.Fatalf("expected unbounded monitor")
	}
	for i := 0; i < 100; i++ {
		if err := mon.Reserve(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	limit := time.Nanosecond
	mon = NewMonitor(Config{MaxTime: &limit})
	time.Sleep(time.Millisecond)
	if err := mon.CheckTime(); err == nil {
		t.Fatalf("expected time budget breach")
	}
}
