package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aiorreal/quota-core/internal/infra/worker"
)

func TestPool_SubmitRunsTasksConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(4)
	pool.Start(ctx)
	defer pool.Stop()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	var ran int32
	for i := 0; i < n; i++ {
		if err := pool.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			wg.Done()
			return nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for submitted tasks to run")
	}
	if got := atomic.LoadInt32(&ran); got != n {
		t.Errorf("expected %d tasks to run, got %d", n, got)
	}
}

func TestPool_SubmitRejectsNilTask(t *testing.T) {
	pool := worker.NewPool(1)
	if err := pool.Submit(nil); err == nil {
		t.Error("expected an error submitting a nil task")
	}
}

func TestPool_TaskErrorDoesNotStopTheWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(1)
	pool.Start(ctx)
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	if err := pool.Submit(func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("submit failing task: %v", err)
	}

	var secondRan int32
	if err := pool.Submit(func(ctx context.Context) error {
		defer wg.Done()
		atomic.StoreInt32(&secondRan, 1)
		return nil
	}); err != nil {
		t.Fatalf("submit second task: %v", err)
	}

	waitChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}
	if atomic.LoadInt32(&secondRan) != 1 {
		t.Error("expected the worker to keep processing tasks after one returns an error")
	}
}

func TestPool_StopWaitsForInFlightWorkers(t *testing.T) {
	ctx := context.Background()
	pool := worker.NewPool(2)
	pool.Start(ctx)

	var finished int32
	started := make(chan struct{})
	if err := pool.Submit(func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Wait until a worker has picked the task up, so it is in flight.
	<-started
	pool.Stop()
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("expected Stop to wait for in-flight tasks to finish")
	}
}
