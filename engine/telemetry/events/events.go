// Package events is a small bounded pub/sub bus used to broadcast phase
// transition and router backpressure notifications to any number of
// subscribers (dashboards, the orchestrator's own callback registry, test
// harnesses) without letting a slow subscriber block the publisher.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hyperpipe/engine/telemetry/metrics"
)

// Event is one notable occurrence: a phase transition, a restart, a
// consumer drop, or similar.
type Event struct {
	Time     time.Time
	Category string // "phase" | "router" | "supervisor"
	Type     string // e.g. "transition", "restart", "packet_dropped"
	Phase    string
	Stream   string
	From     string
	To       string
	Err      error
	Fields   map[string]any
}

// Subscription is a live subscriber's handle on the bus.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// Stats reports bus-wide and per-subscriber delivery counts.
type Stats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus publishes events to every live subscriber, dropping (never blocking)
// when a subscriber's buffer is full.
type Bus interface {
	Publish(ev Event)
	PublishCtx(ctx context.Context, ev Event)
	Subscribe(buffer int) Subscription
	Unsubscribe(sub Subscription)
	Stats() Stats
}

type subscriber struct {
	id     int64
	ch     chan Event
	drops  atomic.Uint64
	closed atomic.Bool
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
	return nil
}

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    atomic.Int64
	published atomic.Uint64
	dropped   atomic.Uint64
	metrics   metrics.Provider
	publishedCounter metrics.Counter
	droppedCounter   metrics.Counter
}

// NewBus constructs an in-memory event bus. A nil metrics.Provider is
// replaced with a no-op one.
func NewBus(provider metrics.Provider) Bus {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	b := &eventBus{
		subs:    make(map[int64]*subscriber),
		metrics: provider,
	}
	b.publishedCounter = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "events", Name: "published_total", Help: "events published to the bus",
	}})
	b.droppedCounter = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "events", Name: "dropped_total", Help: "events dropped because a subscriber's buffer was full",
	}})
	return b
}

func (b *eventBus) Subscribe(buffer int) Subscription {
	if buffer <= 0 {
		buffer = 32
	}
	s := &subscriber{id: b.nextID.Add(1), ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

func (b *eventBus) Unsubscribe(sub Subscription) {
	id := sub.ID()
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

func (b *eventBus) Publish(ev Event) { b.PublishCtx(context.Background(), ev) }

func (b *eventBus) PublishCtx(_ context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.published.Add(1)
	b.publishedCounter.Inc(1)

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			s.drops.Add(1)
			b.dropped.Add(1)
			b.droppedCounter.Inc(1)
		}
	}
}

func (b *eventBus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	perSub := make(map[int64]uint64, len(b.subs))
	for id, s := range b.subs {
		perSub[id] = s.drops.Load()
	}
	return Stats{
		Subscribers:        int64(len(b.subs)),
		Published:          b.published.Load(),
		Dropped:            b.dropped.Load(),
		PerSubscriberDrops: perSub,
	}
}
