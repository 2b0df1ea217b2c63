package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPoolNotStarted = errors.New("worker pool not started")
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrPoolFull       = errors.New("worker pool queue is full")
)

// WorkerPool owns a fixed set of workers which drain a shared, buffered
// task queue. Submitting never blocks: if the queue is full the task is
// rejected with ErrPoolFull.
type WorkerPool struct {
	sync.Mutex
	label   string
	workers []*taskWorker
	tasks   chan Task
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewWorkerPool creates a pool of size workers sharing a queue of queueSize
// pending tasks. Workers are not started until Start is called.
func NewWorkerPool(label string, size int, queueSize int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	pool := &WorkerPool{
		label:   label,
		workers: make([]*taskWorker, 0, size),
		tasks:   make(chan Task, queueSize),
	}
	for i := 0; i < size; i++ {
		pool.workers = append(pool.workers, newWorker(fmt.Sprintf("%s-%d", label, i), pool.tasks))
	}

	return pool
}

// Start spawns a goroutine for each worker in the pool. The context given
// is passed to every task executed by the pool.
//
// Start does NOT block, see Close for waiting on the workers.
func (pool *WorkerPool) Start(ctx context.Context) error {
	pool.Lock()
	defer pool.Unlock()
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.wg.Add(1)
		go func(w *taskWorker) {
			defer pool.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	return nil
}

// Submit enqueues the task for execution by the next free worker.
func (pool *WorkerPool) Submit(task Task) error {
	pool.Lock()
	defer pool.Unlock()

	switch {
	case pool.closed:
		return ErrPoolClosed
	case !pool.started:
		return ErrPoolNotStarted
	}

	select {
	case pool.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Busy returns the number of workers currently executing a task.
func (pool *WorkerPool) Busy() int {
	busy := 0
	for _, w := range pool.workers {
		if w.Status() == Working {
			busy++
		}
	}

	return busy
}

// Pending returns the number of tasks waiting in the queue.
func (pool *WorkerPool) Pending() int { return len(pool.tasks) }

// Close stops accepting new tasks and waits for the workers to finish the
// tasks already queued.
func (pool *WorkerPool) Close() {
	pool.Lock()
	if pool.closed {
		pool.Unlock()
		return
	}
	pool.closed = true
	close(pool.tasks)
	pool.Unlock()

	pool.wg.Wait()
}
