// ABOUTME: Per-key FIFO job queue with at most one active worker per key
// ABOUTME: Keeps same-user events in submission order while different users run concurrently

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrDraining is returned by Submit once Drain has been called.
var ErrDraining = errors.New("router is draining")

// orderedQueue runs jobs in submission order per key. A key is present in
// pending exactly while a worker goroutine owns it.
type orderedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func newOrderedQueue(logger *slog.Logger) *orderedQueue {
	return &orderedQueue{
		pending: make(map[string][]func()),
		logger:  logger,
	}
}

// submit appends job to key's queue, starting a worker if none is active.
func (q *orderedQueue) submit(key string, job func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDraining
	}

	q.wg.Add(1)
	jobs, active := q.pending[key]
	q.pending[key] = append(jobs, job)
	if !active {
		go q.work(key)
	}
	return nil
}

func (q *orderedQueue) work(key string) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		q.run(key, job)
	}
}

// run executes one job, containing any panic to that job.
func (q *orderedQueue) run(key string, job func()) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("event handler panicked",
				"key", key,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	job()
}

// close stops intake. Jobs already submitted still run.
func (q *orderedQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// wait blocks until every submitted job has finished or ctx is done.
func (q *orderedQueue) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
