package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// WorkerPool runs at most maxWorkers jobs at a time. Submit never blocks;
// jobs beyond the limit wait for a free slot.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	queued atomic.Int64
	active atomic.Int64
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit schedules run. If ctx ends before a slot frees up, run is skipped and
// abandon is called with the context error instead.
func (p *WorkerPool) Submit(ctx context.Context, run func(context.Context), abandon func(error)) {
	p.wg.Add(1)
	p.queued.Add(1)

	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			p.queued.Add(-1)
			p.active.Add(1)
			defer func() {
				p.active.Add(-1)
				<-p.sem
			}()
			run(ctx)
		case <-ctx.Done():
			p.queued.Add(-1)
			if abandon != nil {
				abandon(ctx.Err())
			}
		}
	}()
}

// Wait blocks until every submitted job has run or been abandoned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) Capacity() int {
	return cap(p.sem)
}

func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

func (p *WorkerPool) Queued() int {
	return int(p.queued.Load())
}
