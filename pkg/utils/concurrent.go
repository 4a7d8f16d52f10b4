package utils

import (
	"context"
	"sync"
)

// Worker processes one item of a pool.
type Worker[T any, R any] func(ctx context.Context, item T) (R, error)

// WorkerPool runs a Worker over a slice of items with bounded concurrency.
// Results and errors keep the position of their item. Items not reached
// before ctx is cancelled keep a zero result and a nil error, so callers
// check ctx.Err() after ProcessItems returns.
type WorkerPool[T any, R any] struct {
	numWorkers int
	worker     Worker[T, R]
}

// NewWorkerPool creates a pool. A non-positive numWorkers uses
// GetSemaphoreLimit.
func NewWorkerPool[T any, R any](numWorkers int, worker Worker[T, R]) *WorkerPool[T, R] {
	if numWorkers <= 0 {
		numWorkers = GetSemaphoreLimit()
	}
	return &WorkerPool[T, R]{numWorkers: numWorkers, worker: worker}
}

// Size reports the number of workers.
func (wp *WorkerPool[T, R]) Size() int { return wp.numWorkers }

// ProcessItems blocks until every item is handled or ctx is done.
// A panicking worker yields a *PanicError for its item.
func (wp *WorkerPool[T, R]) ProcessItems(ctx context.Context, items []T) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}

	indices := make(chan int, len(items))
	for i := range items {
		indices <- i
	}
	close(indices)

	results := make([]R, len(items))
	errs := make([]error, len(items))

	workers := wp.numWorkers
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-indices:
					if !ok {
						return
					}
					func() {
						defer RecoverWithCallback(func(err error) { errs[i] = err })
						results[i], errs[i] = wp.worker(ctx, items[i])
					}()
				}
			}
		}()
	}
	wg.Wait()
	return results, errs
}

// FirstError returns the first non-nil error and its index, or -1.
func FirstError(errs []error) (int, error) {
	for i, err := range errs {
		if err != nil {
			return i, err
		}
	}
	return -1, nil
}

// Batch splits items into consecutive chunks of at most batchSize.
func Batch[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = 10
	}
	var batches [][]T
	for i := 0; i < len(items); i += batchSize {
		end := min(i+batchSize, len(items))
		batches = append(batches, items[i:end])
	}
	return batches
}
