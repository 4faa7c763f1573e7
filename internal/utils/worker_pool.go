package utils

import (
	"sync"
	"time"
)

// WorkerPool runs queued tasks on a fixed set of workers. The queue is
// bounded to the worker count, so a producer outrunning the workers feels
// backpressure instead of growing an unbounded backlog.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool starts the given number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	pool := &WorkerPool{
		tasks: make(chan func(), workers),
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// TrySubmit enqueues a task unless the queue is full, reporting whether it
// was accepted.
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits up to the grace period for the
// workers to drain. It reports whether the drain completed in time; a stuck
// task leaves its worker behind but no longer blocks the caller.
func (p *WorkerPool) Shutdown(grace time.Duration) bool {
	close(p.tasks)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return true
	case <-time.After(grace):
		return false
	}
}
