// ABOUTME: Tests for the shutdown Coordinator
// ABOUTME: Covers idempotent trigger, ordered cleanup, failure isolation and the listener race

package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_StartsIdle(t *testing.T) {
	c := New(testLogger())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "idle", c.State().String())
}

func TestCoordinator_TriggerTwiceRunsCleanupOnce(t *testing.T) {
	c := New(testLogger())

	var calls int
	c.OnShutdown("count", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Trigger()
	c.Trigger()
	assert.Equal(t, StateSignaled, c.State())

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, 1, calls)
	assert.Equal(t, StateDone, c.State())
}

func TestCoordinator_ConcurrentShutdownWaitsForFirst(t *testing.T) {
	c := New(testLogger())

	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	c.OnShutdown("slow", func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown(context.Background()))
			assert.Equal(t, StateDone, c.State())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestCoordinator_CallbacksRunInOrderDespiteFailures(t *testing.T) {
	c := New(testLogger())

	var order []string
	c.OnShutdown("first", func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("close failed")
	})
	c.OnShutdown("second", func(ctx context.Context) error {
		order = append(order, "second")
		panic("boom")
	})
	c.OnShutdown("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := c.Shutdown(context.Background())

	assert.Equal(t, []string{"first", "second", "third"}, order)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: close failed")
	assert.Contains(t, err.Error(), "second: panic: boom")
	assert.Equal(t, StateDone, c.State())
}

func TestCoordinator_CleanupContextNotCancelled(t *testing.T) {
	c := New(testLogger())

	var cbErr error
	c.OnShutdown("check", func(ctx context.Context) error {
		cbErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.NoError(t, cbErr)
}

func TestCoordinator_RegisterAfterShutdownIgnored(t *testing.T) {
	c := New(testLogger())
	require.NoError(t, c.Shutdown(context.Background()))

	called := false
	c.OnShutdown("late", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, called)
}

func TestCoordinator_Run_TriggerStopsListener(t *testing.T) {
	c := New(testLogger())

	cleaned := make(chan struct{})
	c.OnShutdown("cleanup", func(ctx context.Context) error {
		close(cleaned)
		return nil
	})

	listening := make(chan struct{})
	go func() {
		<-listening
		c.Trigger()
	}()

	err := c.Run(context.Background(), func(ctx context.Context) error {
		close(listening)
		<-ctx.Done()
		return ctx.Err()
	})

	assert.NoError(t, err, "cancellation is a clean stop")
	assert.Equal(t, StateDone, c.State())
	select {
	case <-cleaned:
	default:
		t.Fatal("cleanup did not run")
	}
}

func TestCoordinator_Run_ListenerReturnTriggersCleanup(t *testing.T) {
	c := New(testLogger())

	var cleaned bool
	c.OnShutdown("cleanup", func(ctx context.Context) error {
		cleaned = true
		return nil
	})

	err := c.Run(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, cleaned)
	select {
	case <-c.triggered:
	default:
		t.Fatal("listener return did not trigger shutdown")
	}
}

func TestCoordinator_Run_ListenerErrorSurfaces(t *testing.T) {
	c := New(testLogger())

	var cleaned bool
	c.OnShutdown("cleanup", func(ctx context.Context) error {
		cleaned = true
		return nil
	})

	connErr := errors.New("connection lost")
	err := c.Run(context.Background(), func(ctx context.Context) error {
		return connErr
	})

	assert.ErrorIs(t, err, connErr)
	assert.True(t, cleaned)
}

func TestCoordinator_Run_ParentCancel(t *testing.T) {
	c := New(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.NoError(t, err)
	assert.Equal(t, StateDone, c.State())
}

func TestCoordinator_Run_CleanupFailureNotFatal(t *testing.T) {
	c := New(testLogger())
	c.OnShutdown("broken", func(ctx context.Context) error {
		return errors.New("nope")
	})

	err := c.Run(context.Background(), func(ctx context.Context) error { return nil })

	assert.NoError(t, err)
	<-c.done
}

func TestCoordinator_NotifySignals(t *testing.T) {
	c := New(testLogger())
	c.NotifySignals(context.Background(), syscall.SIGUSR1)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-c.triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	assert.Equal(t, StateSignaled, c.State())
}

func TestCoordinator_NotifySignals_StopsOnContext(t *testing.T) {
	c := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	c.NotifySignals(ctx, syscall.SIGUSR2)
	cancel()

	// The relay goroutine exits; goleak in TestMain verifies it.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
}
