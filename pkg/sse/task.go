package sse

import "sync"

// AsyncTaskPool runs submitted tasks on a fixed number of workers.
type AsyncTaskPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewAsyncTaskPool starts maxWorkers workers with a bounded queue.
func NewAsyncTaskPool(maxWorkers, queueSize int) *AsyncTaskPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	pool := &AsyncTaskPool{tasks: make(chan func(), queueSize)}
	for range maxWorkers {
		go pool.worker()
	}
	return pool
}

func (p *AsyncTaskPool) worker() {
	for task := range p.tasks {
		task()
		p.wg.Done()
	}
}

// Submit queues task. It reports false once the pool is stopped.
func (p *AsyncTaskPool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	p.wg.Add(1)
	p.tasks <- task
	return true
}

// Wait blocks until every submitted task has run.
func (p *AsyncTaskPool) Wait() {
	p.wg.Wait()
}

// Stop rejects new tasks and lets the workers exit after draining the queue.
func (p *AsyncTaskPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.tasks)
}
