// Package lock provides the conversation concurrency gate: per-key FIFO
// ordering under a global concurrency ceiling, with non-blocking admission.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
)

// Handler is one queued unit of work. Errors are logged and never stop
// later handlers of the same key.
type Handler func(ctx context.Context) error

type queuedHandler struct {
	handler    Handler
	enqueuedAt time.Time
}

// Stats is a snapshot of the lock manager state.
type Stats struct {
	Active        int            `json:"active"`
	QueuedTotal   int            `json:"queued_total"`
	QueuedByKey   map[string]int `json:"queued_by_key"`
	MaxConcurrent int            `json:"max_concurrent"`
	ActiveKeys    []string       `json:"active_keys"`
}

// ConversationLock serializes handlers per key while capping the number of
// concurrently running handlers across all keys. A single mutex guards the
// scheduler state; handlers run on their own goroutines.
type ConversationLock struct {
	mu            sync.Mutex
	maxConcurrent int
	active        map[string]struct{}
	queues        map[string][]queuedHandler
	logger        *logger.Logger
}

// New creates a conversation lock with the given global ceiling.
func New(maxConcurrent int, log *logger.Logger) *ConversationLock {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ConversationLock{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]struct{}),
		queues:        make(map[string][]queuedHandler),
		logger:        log.WithFields(zap.String("component", "conversation_lock")),
	}
}

// Acquire submits a handler for key and returns immediately. If the key is
// busy or the global ceiling is reached, the handler is queued in FIFO
// order behind earlier submissions for the same key.
func (l *ConversationLock) Acquire(key string, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[key]; busy || len(l.active) >= l.maxConcurrent {
		l.queues[key] = append(l.queues[key], queuedHandler{handler: handler, enqueuedAt: time.Now()})
		l.logger.Debug("Queued handler",
			zap.String("key", key),
			zap.Int("queue_depth", len(l.queues[key])))
		return
	}

	// Reserve the slot before the goroutine starts to close the admission race.
	l.active[key] = struct{}{}
	go l.run(key, handler)
}

func (l *ConversationLock) run(key string, handler Handler) {
	defer l.complete(key)

	if err := handler(context.Background()); err != nil {
		l.logger.Error(fmt.Sprintf("[ConversationLock] error in %s", key), zap.Error(err))
	}
}

// complete releases the key's slot and promotes at most one queued handler:
// first the key's own queue head, otherwise one head from any other idle
// key with queued work. Dispatching a single promotion per completion
// avoids runaway reentry.
func (l *ConversationLock) complete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, key)

	if len(l.queues[key]) > 0 {
		l.dispatchHead(key)
		return
	}
	delete(l.queues, key)

	for other, queue := range l.queues {
		if len(queue) == 0 {
			continue
		}
		if _, busy := l.active[other]; busy {
			continue
		}
		l.dispatchHead(other)
		return
	}
}

// dispatchHead starts the queue head for key when global capacity allows.
// Caller holds the mutex.
func (l *ConversationLock) dispatchHead(key string) {
	if len(l.active) >= l.maxConcurrent {
		return
	}
	queue := l.queues[key]
	head := queue[0]
	if len(queue) == 1 {
		delete(l.queues, key)
	} else {
		l.queues[key] = queue[1:]
	}

	l.active[key] = struct{}{}
	go l.run(key, head.handler)
}

// Stats returns a snapshot of the scheduler state.
func (l *ConversationLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		Active:        len(l.active),
		MaxConcurrent: l.maxConcurrent,
		QueuedByKey:   make(map[string]int, len(l.queues)),
		ActiveKeys:    make([]string, 0, len(l.active)),
	}
	for key := range l.active {
		stats.ActiveKeys = append(stats.ActiveKeys, key)
	}
	for key, queue := range l.queues {
		if len(queue) == 0 {
			continue
		}
		stats.QueuedByKey[key] = len(queue)
		stats.QueuedTotal += len(queue)
	}
	return stats
}
