// ABOUTME: Coordinator state machine, cleanup registry and listener race
// ABOUTME: Idle -> Signaled -> Draining -> Done, never regressing

package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle phase of a Coordinator.
type State int32

const (
	StateIdle State = iota
	StateSignaled
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignaled:
		return "signaled"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type callback struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator owns the shutdown signal and the cleanup callbacks.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	callbacks []callback

	triggerOnce sync.Once
	triggered   chan struct{}

	cleanupOnce sync.Once
	done        chan struct{}
	err         error

	logger *slog.Logger
}

// New creates an idle Coordinator.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		triggered: make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.With("component", "shutdown"),
	}
}

// OnShutdown registers a cleanup callback. Callbacks run in registration
// order. Registering after cleanup has started has no effect.
func (c *Coordinator) OnShutdown(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateDraining {
		c.logger.Warn("cleanup registered after shutdown started", "name", name)
		return
	}
	c.callbacks = append(c.callbacks, callback{name: name, fn: fn})
}

// Trigger signals shutdown. Safe to call any number of times.
func (c *Coordinator) Trigger() {
	c.triggerOnce.Do(func() {
		c.advance(StateSignaled)
		c.logger.Info("shutdown triggered")
		close(c.triggered)
	})
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NotifySignals calls Trigger when one of sigs arrives. The relay stops
// when ctx is done or shutdown is triggered by other means.
func (c *Coordinator) NotifySignals(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			c.logger.Info("received signal", "signal", sig.String())
			c.Trigger()
		case <-c.triggered:
		case <-ctx.Done():
		}
	}()
}

// Shutdown triggers shutdown and runs the cleanup callbacks once. Later
// calls wait for the first run to finish and return its result. Callbacks
// receive a context detached from ctx's cancellation.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Trigger()
	c.cleanupOnce.Do(func() {
		c.err = c.cleanup(context.WithoutCancel(ctx))
		close(c.done)
	})
	<-c.done
	return c.err
}

// Run races listener against the shutdown trigger. When either side
// finishes, the other is cancelled and cleanup runs. A context.Canceled
// returned by the listener is treated as a clean stop.
func (c *Coordinator) Run(ctx context.Context, listener func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := listener(gctx)
		c.Trigger()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-c.triggered:
		case <-gctx.Done():
			c.Trigger()
		}
		cancel()
		return nil
	})

	runErr := g.Wait()
	if err := c.Shutdown(ctx); err != nil {
		c.logger.Warn("cleanup finished with errors", "error", err)
	}
	return runErr
}

func (c *Coordinator) cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.advanceLocked(StateDraining)
	callbacks := append([]callback(nil), c.callbacks...)
	c.mu.Unlock()

	var errs []error
	for _, cb := range callbacks {
		c.logger.Debug("running cleanup", "name", cb.name)
		if err := c.call(ctx, cb); err != nil {
			c.logger.Error("cleanup failed", "name", cb.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
		}
	}

	c.advance(StateDone)
	c.logger.Info("shutdown complete", "callbacks", len(callbacks), "failures", len(errs))
	return errors.Join(errs...)
}

// call runs one callback, converting a panic into an error.
func (c *Coordinator) call(ctx context.Context, cb callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleanup panicked", "name", cb.name, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb.fn(ctx)
}

func (c *Coordinator) advance(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked(s)
}

func (c *Coordinator) advanceLocked(s State) {
	if s > c.state {
		c.state = s
	}
}
