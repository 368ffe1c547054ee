package workers

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_SubmitWaitReturnsTaskError(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 2
	p := NewPool(nil, cfg)
	p.Start()
	defer p.Stop()

	want := errors.New("boom")
	err := p.SubmitWait(TaskFunc(func() error { return want }))
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if p.Stats().TasksFailed != 1 {
		t.Fatalf("expected 1 failed task, got %d", p.Stats().TasksFailed)
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	p := NewPool(nil, cfg)
	p.Start()
	defer p.Stop()

	err := p.SubmitWait(TaskFunc(func() error {
		panic("boom")
	}))
	if err == nil {
		t.Fatalf("expected a PanicError, got nil")
	}
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected *PanicError, got %T", err)
	}
}

func TestPool_RunsManyTasksConcurrently(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 8
	p := NewPool(nil, cfg)
	p.Start()
	defer p.Stop()

	var completed int64
	const n = 100
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- p.SubmitWait(TaskFunc(func() error {
				atomic.AddInt64(&completed, 1)
				return nil
			}))
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if atomic.LoadInt64(&completed) != n {
		t.Fatalf("expected %d completions, got %d", n, completed)
	}
}

func TestPool_SubmitFailsWhenStopped(t *testing.T) {
	p := NewPool(nil, DefaultPoolConfig("test"))
	if err := p.Submit(TaskFunc(func() error { return nil })); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped before Start, got %v", err)
	}
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("unexpected error stopping: %v", err)
	}
	if err := p.Submit(TaskFunc(func() error { return nil })); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped after Stop, got %v", err)
	}
}

func TestPool_DoubleStartIsNoOp(t *testing.T) {
	p := NewPool(nil, DefaultPoolConfig("test"))
	p.Start()
	p.Start()
	defer p.Stop()
	time.Sleep(10 * time.Millisecond)
	if !p.IsRunning() {
		t.Fatalf("expected pool to remain running")
	}
}
