package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestResultClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"success", nil, StatusSuccess},
		{"empty", ErrEmpty, StatusEmpty},
		{"wrapped empty", fmt.Errorf("lookup: %w", ErrEmpty), StatusEmpty},
		{"canceled", context.Canceled, StatusCanceled},
		{"deadline", fmt.Errorf("waiting: %w", context.DeadlineExceeded), StatusCanceled},
		{"rejected", Reject(errors.New("bad mode")), StatusRejected},
		{"wrapped rejected", fmt.Errorf("share: %w", Reject(errors.New("collision"))), StatusRejected},
		{"unknown", errors.New("boom"), StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newResult(42, tt.err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.want == StatusSuccess || tt.want == StatusEmpty, res.Ok())
			if tt.want == StatusSuccess {
				assert.Equal(t, 42, res.Value)
			}
		})
	}

	assert.Nil(t, Reject(nil))
}

func TestPoolRunsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPool(nil, 1, 64)

	var lock sync.Mutex
	var order []int
	for i := 0; i < 32; i++ {
		err := Submit(context.Background(), p, func(context.Context) (int, error) {
			return i, nil
		}, func(res Result[int]) {
			lock.Lock()
			order = append(order, res.Value)
			lock.Unlock()
		})
		require.NoError(t, err)
	}

	p.Close()

	require.Len(t, order, 32)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPool(nil, 2, 4)
	results := make(chan Result[string], 1)

	require.NoError(t, Submit(context.Background(), p, func(context.Context) (string, error) {
		panic("kaboom")
	}, func(res Result[string]) { results <- res }))

	res := <-results
	assert.Equal(t, StatusUnknown, res.Status)
	assert.ErrorContains(t, res.Err, "kaboom")

	p.Close()
}

func TestPoolSkipsCanceledTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPool(nil, 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran bool
	results := make(chan Result[int], 1)
	require.NoError(t, Submit(ctx, p, func(context.Context) (int, error) {
		ran = true
		return 1, nil
	}, func(res Result[int]) { results <- res }))

	p.Close()

	res := <-results
	assert.False(t, ran)
	assert.Equal(t, StatusCanceled, res.Status)
}

func TestPoolQueueFullAndClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPool(nil, 1, 1)

	block, started := make(chan struct{}), make(chan struct{})
	require.NoError(t, Submit(context.Background(), p, func(context.Context) (struct{}, error) {
		close(started)
		<-block
		return struct{}{}, nil
	}, nil))
	<-started

	// the worker is busy, one slot in the queue
	require.NoError(t, Submit(context.Background(), p, func(context.Context) (struct{}, error) { return struct{}{}, nil }, nil))
	err := Submit(context.Background(), p, func(context.Context) (struct{}, error) { return struct{}{}, nil }, nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	p.Close()
	p.Close()

	err = Submit(context.Background(), p, func(context.Context) (struct{}, error) { return struct{}{}, nil }, nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
