package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAcquireDoesNotBlock(t *testing.T) {
	l := New(1, newTestLogger(t))

	release := make(chan struct{})
	done := make(chan struct{})
	l.Acquire("a", func(ctx context.Context) error {
		<-release
		close(done)
		return nil
	})

	// A second submission for a busy key must return immediately.
	start := time.Now()
	l.Acquire("a", func(ctx context.Context) error { return nil })
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	<-done
	waitFor(t, func() bool { return l.Stats().Active == 0 && l.Stats().QueuedTotal == 0 })
}

func TestPerKeyFIFOOrdering(t *testing.T) {
	l := New(4, newTestLogger(t))

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		l.Acquire("conv", func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v, "handlers for one key must run in submission order")
	}
}

func TestGlobalConcurrencyCeiling(t *testing.T) {
	const maxConcurrent = 3
	l := New(maxConcurrent, newTestLogger(t))

	var running, peak int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		l.Acquire(key, func(ctx context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&running) == maxConcurrent })
	assert.Equal(t, maxConcurrent, l.Stats().Active)
	assert.Equal(t, 10-maxConcurrent, l.Stats().QueuedTotal)

	close(release)
	wg.Wait()
	waitFor(t, func() bool { return l.Stats().Active == 0 })
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(maxConcurrent))
}

func TestHandlerErrorDoesNotStallQueue(t *testing.T) {
	l := New(2, newTestLogger(t))

	var ran int32
	var wg sync.WaitGroup
	wg.Add(2)

	l.Acquire("conv", func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	})
	l.Acquire("conv", func(ctx context.Context) error {
		defer wg.Done()
		atomic.AddInt32(&ran, 1)
		return nil
	})

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	waitFor(t, func() bool { return l.Stats().Active == 0 && l.Stats().QueuedTotal == 0 })
}

func TestHandlerErrorLogsKey(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "lock.log")
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: logPath})
	require.NoError(t, err)

	l := New(1, log)
	done := make(chan struct{})
	l.Acquire("telegram:42", func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done

	waitFor(t, func() bool { return l.Stats().Active == 0 })
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ConversationLock] error in telegram:42")
}

func TestCompletionPromotesOtherKeys(t *testing.T) {
	l := New(1, newTestLogger(t))

	releaseA := make(chan struct{})
	var bRan int32

	l.Acquire("a", func(ctx context.Context) error {
		<-releaseA
		return nil
	})
	// Queued behind the global ceiling even though key "b" is idle.
	l.Acquire("b", func(ctx context.Context) error {
		atomic.AddInt32(&bRan, 1)
		return nil
	})

	waitFor(t, func() bool { return l.Stats().QueuedTotal == 1 })
	assert.Equal(t, int32(0), atomic.LoadInt32(&bRan))

	close(releaseA)
	waitFor(t, func() bool { return atomic.LoadInt32(&bRan) == 1 })
	waitFor(t, func() bool { return l.Stats().Active == 0 && l.Stats().QueuedTotal == 0 })
}

func TestStatsSnapshot(t *testing.T) {
	l := New(1, newTestLogger(t))

	release := make(chan struct{})
	l.Acquire("busy", func(ctx context.Context) error {
		<-release
		return nil
	})
	l.Acquire("busy", func(ctx context.Context) error { return nil })
	l.Acquire("waiting", func(ctx context.Context) error { return nil })

	waitFor(t, func() bool { return l.Stats().QueuedTotal == 2 })
	stats := l.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, []string{"busy"}, stats.ActiveKeys)
	assert.Equal(t, 1, stats.QueuedByKey["busy"])
	assert.Equal(t, 1, stats.QueuedByKey["waiting"])
	assert.Equal(t, 1, stats.MaxConcurrent)

	close(release)
	waitFor(t, func() bool { return l.Stats().Active == 0 && l.Stats().QueuedTotal == 0 })
}
