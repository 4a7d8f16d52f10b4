package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolKeepsOrder(t *testing.T) {
	var active, peak int32
	pool := NewWorkerPool(3, func(ctx context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		defer atomic.AddInt32(&active, -1)
		return n * n, nil
	})

	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	results, errs := pool.ProcessItems(context.Background(), items)
	require.Len(t, results, len(items))
	for i, n := range items {
		assert.Equal(t, n*n, results[i])
		assert.NoError(t, errs[i])
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestWorkerPoolErrorsAndPanics(t *testing.T) {
	errOdd := errors.New("odd")
	pool := NewWorkerPool(2, func(ctx context.Context, n int) (string, error) {
		switch {
		case n == 3:
			panic("three")
		case n%2 == 1:
			return "", errOdd
		}
		return "ok", nil
	})

	_, errs := pool.ProcessItems(context.Background(), []int{0, 1, 2, 3})
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], errOdd)
	assert.NoError(t, errs[2])
	var panicErr *PanicError
	require.ErrorAs(t, errs[3], &panicErr)
	assert.Equal(t, "three", panicErr.Value)

	idx, err := FirstError(errs)
	assert.Equal(t, 1, idx)
	assert.ErrorIs(t, err, errOdd)
}

func TestWorkerPoolDefaults(t *testing.T) {
	t.Setenv("SEMAPHORE_LIMIT", "7")
	pool := NewWorkerPool(0, func(ctx context.Context, n int) (int, error) { return n, nil })
	assert.Equal(t, 7, pool.Size())

	results, errs := pool.ProcessItems(context.Background(), nil)
	assert.Nil(t, results)
	assert.Nil(t, errs)

	t.Setenv("SEMAPHORE_LIMIT", "bogus")
	assert.Equal(t, DefaultSemaphoreLimit, GetSemaphoreLimit())
}

func TestBatch(t *testing.T) {
	t.Parallel()
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Batch([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, Batch([]int{}, 3))
	assert.Len(t, Batch(make([]int, 25), 0), 3)
}
