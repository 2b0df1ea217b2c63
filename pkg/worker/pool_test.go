package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/priyankadasarigt/ytdown/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Pool_ExecutesSubmittedTasks(t *testing.T) {
	pool := worker.NewWorkerPool("test", 3, 10)
	require.NoError(t, pool.Start(context.Background()))

	var count atomic.Int32
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		assert.NoError(t, pool.Submit(func(context.Context) {
			defer wg.Done()
			count.Add(1)
		}))
	}

	wg.Wait()
	pool.Close()
	assert.EqualValues(t, 10, count.Load())
}

func Test_Pool_RejectsBeforeStartAndAfterClose(t *testing.T) {
	pool := worker.NewWorkerPool("test", 1, 1)
	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), worker.ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.Error(t, pool.Start(context.Background()), "starting twice must fail")

	pool.Close()
	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), worker.ErrPoolClosed)
}

func Test_Pool_FullQueueRejectsWithoutBlocking(t *testing.T) {
	pool := worker.NewWorkerPool("test", 1, 1)
	require.NoError(t, pool.Start(context.Background()))

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	// One slot in the queue, the next submission must be rejected
	require.NoError(t, pool.Submit(func(context.Context) {}))
	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), worker.ErrPoolFull)
	assert.Equal(t, 1, pool.Busy())
	assert.Equal(t, 1, pool.Pending())

	close(release)
	pool.Close()
}

func Test_Pool_SurvivesPanickingTask(t *testing.T) {
	pool := worker.NewWorkerPool("test", 1, 2)
	require.NoError(t, pool.Start(context.Background()))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, pool.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic was never executed")
	}
	pool.Close()
}
