package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WorkerStatus int32

// Task is a single unit of work executed by a worker. The context provided
// is cancelled when the owning pool is shutting down.
type Task func(context.Context)

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

type taskWorker struct {
	label         string
	tasks         <-chan Task
	currentStatus atomic.Int32
}

func newWorker(label string, tasks <-chan Task) *taskWorker {
	return &taskWorker{label: label, tasks: tasks}
}

// Start pulls tasks from the shared task channel until it is closed. A task
// which panics is logged and discarded; the worker carries on with the next.
func (worker *taskWorker) Start(ctx context.Context) {
	workerLogger.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	for task := range worker.tasks {
		worker.setStatus(Working)
		if err := worker.execute(ctx, task); err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %s recovered from task failure: %v\n", worker.label, err)
		}
		worker.setStatus(Sleeping)
	}

	worker.setStatus(Finished)
	workerLogger.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
}

func (worker *taskWorker) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	task(ctx)
	return nil
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) setStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}
