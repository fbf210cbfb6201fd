package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	pool := NewPool(3)

	var ran int64
	tasks := []Task{
		{Name: "a", Execute: func() (interface{}, error) {
			atomic.AddInt64(&ran, 1)
			return 1, nil
		}},
		{Name: "b", Execute: func() (interface{}, error) {
			atomic.AddInt64(&ran, 1)
			return "two", nil
		}},
		{Name: "c", Execute: func() (interface{}, error) {
			atomic.AddInt64(&ran, 1)
			return nil, errors.New("boom")
		}},
	}

	results := pool.Execute(context.Background(), tasks)

	require.Len(t, results, 3)
	assert.Equal(t, int64(3), atomic.LoadInt64(&ran))
	assert.Equal(t, 1, results["a"].Data)
	assert.Equal(t, "two", results["b"].Data)
	assert.EqualError(t, results["c"].Err, "boom")
}

func TestPoolWorkerCountFloor(t *testing.T) {
	pool := NewPool(0)

	results := pool.Execute(context.Background(), []Task{
		{Name: "only", Execute: func() (interface{}, error) { return 42, nil }},
	})
	require.Len(t, results, 1)
	assert.Equal(t, 42, results["only"].Data)
}

func TestPoolCancelledContext(t *testing.T) {
	pool := NewPool(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Execute must return instead of waiting on tasks nobody will pick up.
	results := pool.Execute(ctx, []Task{
		{Name: "first", Execute: func() (interface{}, error) { return nil, nil }},
		{Name: "second", Execute: func() (interface{}, error) { return nil, nil }},
	})
	assert.LessOrEqual(t, len(results), 2)
}
