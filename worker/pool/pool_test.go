package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(3)

	var running, maxRunning int32
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		p.Submit(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > maxRunning {
				maxRunning = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}, nil)
	}
	p.Wait()

	if maxRunning > 3 {
		t.Errorf("Expected at most 3 concurrent jobs, got %d", maxRunning)
	}
	if maxRunning == 0 {
		t.Error("Expected jobs to run")
	}
	if p.Active() != 0 || p.Queued() != 0 {
		t.Errorf("Expected idle pool, got active=%d queued=%d", p.Active(), p.Queued())
	}
}

func TestWorkerPool_QueuedJobsWaitForSlot(t *testing.T) {
	p := NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}, nil)
	<-started

	ran := make(chan struct{})
	p.Submit(context.Background(), func(ctx context.Context) { close(ran) }, nil)

	deadline := time.Now().Add(time.Second)
	for p.Queued() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Queued() != 1 || p.Active() != 1 {
		t.Errorf("Expected 1 active and 1 queued, got active=%d queued=%d", p.Active(), p.Queued())
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected queued job to run after slot freed")
	}
	p.Wait()
}

func TestWorkerPool_AbandonOnCancel(t *testing.T) {
	p := NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}, nil)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	p.Submit(ctx, func(ctx context.Context) {
		t.Error("Expected cancelled job not to run")
	}, func(err error) { abandoned <- err })

	cancel()

	select {
	case err := <-abandoned:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected abandon callback")
	}

	close(release)
	p.Wait()
}

func TestNewWorkerPool_MinimumCapacity(t *testing.T) {
	if got := NewWorkerPool(0).Capacity(); got != 1 {
		t.Errorf("Expected capacity 1, got %d", got)
	}
}
