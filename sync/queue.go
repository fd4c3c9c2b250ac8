package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/goliatone/go-identity-sync/adapters/gojob"
	"github.com/goliatone/go-identity-sync/core"
)

const defaultQueueBuffer = 64

var (
	ErrQueueClosed = errors.New("sync: queue is closed")
	ErrQueueFull   = errors.New("sync: queue is full")
)

// DeadLetter is a message the queue gave up on.
type DeadLetter struct {
	Message  *core.JobExecutionMessage
	Attempts int
	Reason   string
	At       time.Time
}

type envelope struct {
	msg     *core.JobExecutionMessage
	key     string
	attempt int
}

// MemoryQueue is an in-process import queue. Messages with the same
// idempotency key are accepted once until they are acked or given up on.
type MemoryQueue struct {
	policy gojob.RetryPolicy
	now    func() time.Time
	ready  chan *envelope

	mu          gosync.Mutex
	closed      bool
	done        chan struct{}
	inflight    map[string]struct{}
	deadLetters []DeadLetter
	timers      map[*time.Timer]struct{}
}

func NewMemoryQueue(buffer int, policy gojob.RetryPolicy) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultQueueBuffer
	}
	return &MemoryQueue{
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		ready:    make(chan *envelope, buffer),
		done:     make(chan struct{}),
		inflight: map[string]struct{}{},
		timers:   map[*time.Timer]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("sync: queue is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("sync: job message with a job id is required")
	}
	env := &envelope{msg: cloneMessage(msg), key: strings.TrimSpace(msg.IdempotencyKey), attempt: 1}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if env.key != "" {
		if _, exists := q.inflight[env.key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.inflight[env.key] = struct{}{}
	}
	select {
	case q.ready <- env:
		q.mu.Unlock()
		return nil
	default:
	}
	q.release(env.key)
	q.mu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrQueueFull
}

// Dequeue blocks until a message is ready, ctx is done or the queue is
// closed and drained.
func (q *MemoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil {
		return nil, fmt.Errorf("sync: queue is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case env := <-q.ready:
		return &memoryDelivery{queue: q, env: env}, nil
	default:
	}
	select {
	case env := <-q.ready:
		return &memoryDelivery{queue: q, env: env}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		select {
		case env := <-q.ready:
			return &memoryDelivery{queue: q, env: env}, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// Close stops accepting messages. Pending retries are dropped.
func (q *MemoryQueue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	close(q.done)
}

// Len is the number of messages ready for delivery.
func (q *MemoryQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ready)
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

func (q *MemoryQueue) ack(env *envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.release(env.key)
}

func (q *MemoryQueue) nack(env *envelope, opts core.JobNackOptions) {
	normalized := q.policy.NormalizeAttempt(opts, env.attempt)

	q.mu.Lock()
	defer q.mu.Unlock()
	if normalized.Requeue && !q.closed {
		next := &envelope{msg: env.msg, key: env.key, attempt: env.attempt + 1}
		q.schedule(next, normalized.Delay)
		return
	}
	if normalized.DeadLetter {
		q.deadLetters = append(q.deadLetters, DeadLetter{
			Message:  cloneMessage(env.msg),
			Attempts: env.attempt,
			Reason:   normalized.Reason,
			At:       q.now(),
		})
	}
	q.release(env.key)
}

// schedule requeues env after delay. Callers hold q.mu.
func (q *MemoryQueue) schedule(env *envelope, delay time.Duration) {
	if delay <= 0 {
		select {
		case q.ready <- env:
			return
		default:
			delay = time.Millisecond
		}
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			q.release(env.key)
			return
		}
		select {
		case q.ready <- env:
		default:
			q.schedule(env, time.Millisecond)
		}
	})
	q.timers[timer] = struct{}{}
}

// release forgets an idempotency key. Callers hold q.mu.
func (q *MemoryQueue) release(key string) {
	if key != "" {
		delete(q.inflight, key)
	}
}

type memoryDelivery struct {
	queue *MemoryQueue

	mu      gosync.Mutex
	env     *envelope
	settled bool
}

func (d *memoryDelivery) Message() *core.JobExecutionMessage {
	return cloneMessage(d.env.msg)
}

// Attempt starts at 1 and grows with every requeue.
func (d *memoryDelivery) Attempt() int {
	return d.env.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.ack(d.env)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.nack(d.env, opts)
	return nil
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("sync: delivery already settled")
	}
	d.settled = true
	return nil
}

func cloneMessage(msg *core.JobExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	if msg.Parameters != nil {
		out.Parameters = make(map[string]any, len(msg.Parameters))
		for key, value := range msg.Parameters {
			out.Parameters[key] = value
		}
	}
	return &out
}

var (
	_ core.JobEnqueuer = (*MemoryQueue)(nil)
	_ core.JobDequeuer = (*MemoryQueue)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
