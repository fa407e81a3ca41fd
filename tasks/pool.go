package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lanpresence "github.com/devgianlu/go-lanpresence"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed = errors.New("task pool closed")
	ErrQueueFull  = errors.New("task queue full")
)

// Task is a unit of work producing a value of type T.
type Task[T any] func(ctx context.Context) (T, error)

// Pool runs tasks on a fixed number of workers. With a single worker tasks run
// one at a time in submission order.
type Pool struct {
	log lanpresence.Logger

	queue  chan func()
	group  errgroup.Group
	closed bool
	lock   sync.RWMutex
}

func NewPool(log lanpresence.Logger, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{log: lanpresence.LoggerOrNull(log), queue: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			for run := range p.queue {
				run()
			}
			return nil
		})
	}

	return p
}

// Submit enqueues task on p without blocking. Once the task has run, or was
// skipped because ctx ended first, done receives its result on the worker
// goroutine. An error is returned if the task could not be enqueued, in which
// case done is never called.
func Submit[T any](ctx context.Context, p *Pool, task Task[T], done func(Result[T])) error {
	run := func() {
		res := runTask(ctx, p.log, task)
		if done != nil {
			done(res)
		}
	}

	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- run:
		return nil
	default:
		return ErrQueueFull
	}
}

func runTask[T any](ctx context.Context, log lanpresence.Logger, task Task[T]) (res Result[T]) {
	if err := ctx.Err(); err != nil {
		var zero T
		return newResult(zero, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("task panicked: %v", rec)
			res = Result[T]{Status: StatusUnknown, Err: fmt.Errorf("task panicked: %v", rec)}
		}
	}()

	val, err := task(ctx)
	return newResult(val, err)
}

// Close stops accepting tasks and waits for the queued ones to run.
func (p *Pool) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}

	p.closed = true
	close(p.queue)
	p.lock.Unlock()

	_ = p.group.Wait()
}
