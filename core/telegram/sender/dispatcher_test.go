package sender

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestDispatcher(opts Options) *Dispatcher {
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = time.Second
	}
	if opts.PerChatRate == 0 {
		opts.PerChatRate = rate.Inf
	}
	return NewDispatcher(opts)
}

func TestDispatcherDrainsQueueOnClose(t *testing.T) {
	d := newTestDispatcher(Options{Workers: 2, QueueSize: 16})
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		err := d.Enqueue(context.Background(), 1, "send.text", func() error {
			ran.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	d.Close()
	if got := ran.Load(); got != 10 {
		t.Fatalf("ran = %d, want 10", got)
	}
	if err := d.Enqueue(context.Background(), 1, "send.text", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestDispatcherDoRetriesTransientErrors(t *testing.T) {
	d := newTestDispatcher(Options{MaxRetries: 3})
	defer d.Close()

	var calls int
	err := d.Do(context.Background(), 1, "send.text", func() error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDispatcherDoStopsOnPermanentError(t *testing.T) {
	d := newTestDispatcher(Options{MaxRetries: 3})
	defer d.Close()

	permanent := errors.New("telegram: chat not found (400)")
	var calls int
	err := d.Do(context.Background(), 1, "send.text", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got := d.ErrorCount(); got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
}

func TestDispatcherPerChatRateLimit(t *testing.T) {
	d := newTestDispatcher(Options{PerChatRate: rate.Every(20 * time.Millisecond), PerChatBurst: 1})
	defer d.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := d.Do(context.Background(), 7, "send.text", func() error { return nil }); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("elapsed = %v, want rate limiting to spread sends", elapsed)
	}
}
