package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePinger struct {
	err   error
	calls atomic.Int64
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.err != nil {
		return p.err
	}
	return nil
}

func TestWatchLivenessTerminatesOnFailedPing(t *testing.T) {
	pinger := &fakePinger{err: errors.New("no pong")}
	var failures atomic.Int64
	done := make(chan struct{})

	go func() {
		defer close(done)
		WatchLiveness(context.Background(), pinger, 10*time.Millisecond, func() {
			failures.Add(1)
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after failed ping")
	}
	if got := failures.Load(); got != 1 {
		t.Errorf("onFailure called %d times, want 1", got)
	}
	if got := pinger.calls.Load(); got != 1 {
		t.Errorf("Ping called %d times, want 1", got)
	}
}

func TestWatchLivenessHealthyConnection(t *testing.T) {
	pinger := &fakePinger{}
	var failures atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		WatchLiveness(ctx, pinger, 10*time.Millisecond, func() {
			failures.Add(1)
		})
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
	if got := failures.Load(); got != 0 {
		t.Errorf("onFailure called %d times for healthy connection", got)
	}
	if pinger.calls.Load() == 0 {
		t.Error("Ping never called")
	}
}

func TestWatchLivenessCancelBeforeFirstTick(t *testing.T) {
	pinger := &fakePinger{err: errors.New("no pong")}
	var failures atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchLiveness(ctx, pinger, time.Hour, func() {
			failures.Add(1)
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on canceled context")
	}
	if got := failures.Load(); got != 0 {
		t.Errorf("onFailure called %d times after cancel", got)
	}
}
