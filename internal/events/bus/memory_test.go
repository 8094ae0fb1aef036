package bus

import (
	"context"
	"sync"
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
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMemoryEventBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	var received []*Event

	sub, err := b.Subscribe("archon.message.completed", func(ctx context.Context, e *Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	event := NewEvent("message.completed", "orchestrator", map[string]interface{}{"conversation_id": "c1"})
	require.NoError(t, b.Publish(context.Background(), "archon.message.completed", event))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	assert.Equal(t, event.ID, received[0].ID)
	mu.Unlock()
}

func TestMemoryEventBusWildcardMatching(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}

	record := func(name string) EventHandler {
		return func(ctx context.Context, e *Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			return nil
		}
	}

	_, err := b.Subscribe("archon.>", record("all"))
	require.NoError(t, err)
	_, err = b.Subscribe("archon.session.*", record("session"))
	require.NoError(t, err)
	_, err = b.Subscribe("archon.message.failed", record("failed"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "archon.session.rotated", NewEvent("session.rotated", "test", nil)))
	require.NoError(t, b.Publish(ctx, "archon.message.failed", NewEvent("message.failed", "test", nil)))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["all"] == 2 && counts["session"] == 1 && counts["failed"] == 1
	})
}

func TestMemoryEventBusQueueGroupDeliversOnce(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	total := 0

	for i := 0; i < 3; i++ {
		_, err := b.QueueSubscribe("archon.isolation.created", "workers", func(ctx context.Context, e *Event) error {
			mu.Lock()
			total++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Publish(context.Background(), "archon.isolation.created", NewEvent("isolation.created", "test", nil)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 6
	})
}

func TestMemoryEventBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	count := 0

	sub, err := b.Subscribe("archon.message.received", func(ctx context.Context, e *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "archon.message.received", NewEvent("message.received", "test", nil)))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()
}

func TestMemoryEventBusClosedRejectsPublish(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	b.Close()

	assert.False(t, b.IsConnected())
	err := b.Publish(context.Background(), "archon.message.received", NewEvent("message.received", "test", nil))
	assert.Error(t, err)
}
