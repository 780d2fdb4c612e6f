package engine

import (
	"context"
	"fmt"
	"sync"
)

// leafTask is one independent transfer: a file, or a directory that is
// empty on disk.
type leafTask struct {
	entry   Entry
	dstPath string
}

// workerPool runs leaf tasks on a bounded number of goroutines.
type workerPool struct {
	numWorkers int
	process    func(ctx context.Context, workerID int, task leafTask) error
}

// Run starts workers that consume tasks. It blocks until the channel is
// closed and drained, or the context is cancelled. A failing task does not
// stop its siblings; every error is returned.
func (wp workerPool) Run(ctx context.Context, tasks <-chan leafTask) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for id := range max(wp.numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if ctx.Err() != nil {
					continue // drain so the producer never blocks
				}
				if err := wp.process(ctx, id, task); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return errs
}

// firstError folds a list of errors into the first one plus a count of the
// rest.
func firstError(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%w (and %d more errors)", errs[0], len(errs)-1)
	}
}
