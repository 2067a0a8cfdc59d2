package workers_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/workers"
	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasksConcurrently(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 4
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })

	const n = 20
	var completed atomic.Int64
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		if err := p.Submit(workers.TaskFunc(func() error {
			completed.Add(1)
			done <- struct{}{}
			return nil
		})); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for tasks, completed=%d", completed.Load())
		}
	}
	if completed.Load() != n {
		t.Fatalf("expected %d completed tasks, got %d", n, completed.Load())
	}
}

func TestPoolSubmitAfterStopReturnsErrPoolStopped(t *testing.T) {
	p := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	err := p.Submit(workers.TaskFunc(func() error { return nil }))
	if !errors.Is(err, workers.ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })

	panicked := make(chan struct{})
	if err := p.Submit(workers.TaskFunc(func() error {
		defer close(panicked)
		panic("boom")
	})); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-panicked:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for panicking task")
	}

	// A subsequent task must still run: the panic must not have taken
	// the worker goroutine down with it.
	ran := make(chan struct{})
	if err := p.Submit(workers.TaskFunc(func() error {
		close(ran)
		return nil
	})); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover after panicking task")
	}
}
