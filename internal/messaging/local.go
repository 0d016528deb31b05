package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const localMaxAttempts = 10

// LocalBroker is an in-process broker for development and tests. Each group
// subscribed to a topic receives every message; failed deliveries are queued
// again until localMaxAttempts is reached.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[string][]*localSub
	queue  []*delivery
	notify chan struct{}
	gap    time.Duration

	stop chan struct{}
	done chan struct{}
}

type localSub struct {
	group   string
	handler Handler
}

type delivery struct {
	sub      *localSub
	msg      Message
	attempts int
}

func NewLocalBroker(redeliveryGap time.Duration) *LocalBroker {
	return &LocalBroker{
		subs:   make(map[string][]*localSub),
		notify: make(chan struct{}, 1),
		gap:    redeliveryGap,
	}
}

func (b *LocalBroker) Publish(ctx context.Context, topic, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	for _, sub := range b.subs[topic] {
		payload := append([]byte(nil), data...)
		b.queue = append(b.queue, &delivery{sub: sub, msg: Message{Topic: topic, Key: key, Data: payload}})
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *LocalBroker) Subscribe(topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[topic] {
		if sub.group == group {
			return nil
		}
	}
	b.subs[topic] = append(b.subs[topic], &localSub{group: group, handler: handler})
	return nil
}

func (b *LocalBroker) next() *delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	d := b.queue[0]
	b.queue = b.queue[1:]
	return d
}

func (b *LocalBroker) requeue(d *delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, d)
}

// deliver runs one delivery and reports whether it was acknowledged.
func (b *LocalBroker) deliver(ctx context.Context, d *delivery) bool {
	d.attempts++
	err := d.sub.handler(ctx, d.msg)
	if err == nil {
		return true
	}

	if d.attempts >= localMaxAttempts {
		slog.Error("Dropping message after repeated handler failures",
			"topic", d.msg.Topic, "group", d.sub.group, "attempts", d.attempts, "error", err)
		return true
	}
	slog.Warn("Message handling failed, redelivering",
		"topic", d.msg.Topic, "group", d.sub.group, "attempt", d.attempts, "error", err)
	b.requeue(d)
	return false
}

// Drain delivers queued messages, including ones published by handlers,
// until the queue is empty. It returns the number of acknowledged deliveries.
func (b *LocalBroker) Drain(ctx context.Context) (int, error) {
	acked := 0
	for {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		d := b.next()
		if d == nil {
			return acked, nil
		}
		if b.deliver(ctx, d) {
			acked++
		}
	}
}

// Pending returns the number of queued deliveries.
func (b *LocalBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Start delivers in the background until Close.
func (b *LocalBroker) Start(ctx context.Context) {
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for {
			select {
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			case <-b.notify:
			}

			for d := b.next(); d != nil; d = b.next() {
				if !b.deliver(ctx, d) && b.gap > 0 {
					select {
					case <-b.stop:
						return
					case <-time.After(b.gap):
					}
				}
			}
		}
	}()
}

func (b *LocalBroker) Close() error {
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}
	return nil
}
