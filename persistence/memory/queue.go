package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tahanlog/gastoflow/persistence"
)

var _ persistence.Queue = new(InMemQueue)

type InMemQueue struct {
	mu     sync.Mutex
	queues map[string][]string
}

func NewInMemQueue() *InMemQueue {
	return &InMemQueue{
		queues: make(map[string][]string),
	}
}

func (q *InMemQueue) Push(ctx context.Context, queueName string, workflowId string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[queueName] = append(q.queues[queueName], string(message))
	return nil
}

func (q *InMemQueue) Pop(ctx context.Context, queueName string, batchSize int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[queueName]
	if len(items) == 0 {
		return nil, persistence.EmptyQueueError{QueueName: queueName}
	}
	if batchSize > len(items) {
		batchSize = len(items)
	}
	popped := items[:batchSize]
	q.queues[queueName] = items[batchSize:]
	return popped, nil
}

var _ persistence.DelayQueue = new(InMemDelayQueue)

type delayedMessage struct {
	dueTime time.Time
	delay   time.Duration
	message string
}

// DelayedEntry is a drained retry message together with the delay it
// was scheduled with. Used by tests that release retries immediately.
type DelayedEntry struct {
	Message string
	Delay   time.Duration
}

type InMemDelayQueue struct {
	mu     sync.Mutex
	queues map[string][]delayedMessage
}

func NewInMemDelayQueue() *InMemDelayQueue {
	return &InMemDelayQueue{
		queues: make(map[string][]delayedMessage),
	}
}

func (q *InMemDelayQueue) PushWithDelay(ctx context.Context, queueName string, delay time.Duration, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := append(q.queues[queueName], delayedMessage{
		dueTime: time.Now().Add(delay),
		delay:   delay,
		message: string(message),
	})
	sort.Slice(items, func(i, j int) bool {
		return items[i].dueTime.Before(items[j].dueTime)
	})
	q.queues[queueName] = items
	return nil
}

func (q *InMemDelayQueue) PopDue(ctx context.Context, queueName string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	items := q.queues[queueName]
	due := make([]string, 0)
	remaining := items[:0]
	for _, item := range items {
		if item.dueTime.After(now) {
			remaining = append(remaining, item)
			continue
		}
		due = append(due, item.message)
	}
	q.queues[queueName] = remaining
	if len(due) == 0 {
		return nil, persistence.EmptyQueueError{QueueName: queueName}
	}
	return due, nil
}

// Drain removes every message regardless of due time.
func (q *InMemDelayQueue) Drain(queueName string) []DelayedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[queueName]
	q.queues[queueName] = nil
	entries := make([]DelayedEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, DelayedEntry{Message: item.message, Delay: item.delay})
	}
	return entries
}
