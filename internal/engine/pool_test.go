package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(n int) <-chan leafTask {
	ch := make(chan leafTask, n)
	for i := range n {
		ch <- leafTask{entry: Entry{Rel: fmt.Sprintf("f%d", i), Kind: KindFile}}
	}
	close(ch)
	return ch
}

func TestWorkerPoolProcessesAll(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	workers := make(map[int]bool)

	pool := workerPool{numWorkers: 4, process: func(_ context.Context, id int, task leafTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen[task.entry.Rel] = true
		workers[id] = true
		return nil
	}}
	errs := pool.Run(context.Background(), feed(100))

	assert.Empty(t, errs)
	assert.Len(t, seen, 100)
	for id := range workers {
		assert.True(t, id >= 0 && id < 4, "worker id %d", id)
	}
}

func TestWorkerPoolCollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	var processed atomic.Int64

	pool := workerPool{numWorkers: 3, process: func(_ context.Context, _ int, task leafTask) error {
		processed.Add(1)
		if task.entry.Rel == "f3" || task.entry.Rel == "f7" {
			return boom
		}
		return nil
	}}
	errs := pool.Run(context.Background(), feed(10))

	assert.Equal(t, int64(10), processed.Load(), "a failure does not stop siblings")
	require.Len(t, errs, 2)
	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestWorkerPoolCancelledDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var processed atomic.Int64
	pool := workerPool{numWorkers: 2, process: func(context.Context, int, leafTask) error {
		processed.Add(1)
		return nil
	}}
	errs := pool.Run(ctx, feed(20))

	assert.Empty(t, errs)
	assert.Zero(t, processed.Load())
}

func TestWorkerPoolZeroWorkers(t *testing.T) {
	var processed atomic.Int64
	pool := workerPool{process: func(context.Context, int, leafTask) error {
		processed.Add(1)
		return nil
	}}
	pool.Run(context.Background(), feed(5))
	assert.Equal(t, int64(5), processed.Load())
}

func TestFirstError(t *testing.T) {
	require.NoError(t, firstError(nil))

	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")
	assert.Equal(t, a, firstError([]error{a}))

	err := firstError([]error{a, b, c})
	require.ErrorIs(t, err, a)
	assert.Equal(t, "a (and 2 more errors)", err.Error())
}
