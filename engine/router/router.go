package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"hyperpipe/engine/telemetry/events"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
)

// ConsumerConfig describes one consumer registration. Replica groups
// sharing the same GroupName receive packets load-balanced by
// DispatchName rather than duplicated to every member (see
// SPEC_FULL.md §3.1); a unique GroupName per consumer reproduces plain
// one-session-per-consumer multicast.
type ConsumerConfig struct {
	GroupName    string
	Protocol     Protocol
	Address      string
	QueueSize    int
	Backpressure Backpressure
	ThrottleWait time.Duration
	DispatchName string
}

type consumerSession struct {
	id     string
	group  string
	queue  *queue
	writer egressWriter
	cancel context.CancelFunc
}

// Router multicasts one stream's packets from its single producer to every
// registered consumer session, assigning a monotonic sequence number to
// each packet before fan-out.
type Router struct {
	stream string

	mu       sync.RWMutex
	sessions map[string]*consumerSession
	groups   map[string][]string // group name -> member session ids, in registration order
	strategies map[string]DispatchStrategy

	seq atomic.Uint64

	dialTimeout time.Duration
	publishHooks []func(Packet)

	ingressCtx    context.Context
	ingressCancel context.CancelFunc
	wsIngressBusy atomic.Bool

	bus     events.Bus
	log     logging.Logger
	sent    metrics.Counter
	dropped metrics.Counter
	depth   metrics.Gauge

	wg conc.WaitGroup
}

// New constructs a Router for one named stream. dialTimeout bounds how long
// Register waits for a new consumer connection before reporting it
// unreachable; zero means the dialEgress default (5s) applies.
func New(stream string, dialTimeout time.Duration, bus events.Bus, log logging.Logger, provider metrics.Provider) *Router {
	if log == nil {
		log = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	ingressCtx, ingressCancel := context.WithCancel(context.Background())
	r := &Router{
		stream:        stream,
		sessions:      make(map[string]*consumerSession),
		groups:        make(map[string][]string),
		strategies:    make(map[string]DispatchStrategy),
		dialTimeout:   dialTimeout,
		ingressCtx:    ingressCtx,
		ingressCancel: ingressCancel,
		bus:           bus,
		log:           log,
	}
	r.sent = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "router", Name: "packets_sent_total", Help: "packets enqueued for a consumer", Labels: []string{"stream"},
	}})
	r.dropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "router", Name: "packets_dropped_total", Help: "packets dropped by a consumer's backpressure policy", Labels: []string{"stream", "consumer"},
	}})
	r.depth = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "router", Name: "consumer_queue_depth", Help: "current queue depth per consumer", Labels: []string{"stream", "consumer"},
	}})
	return r
}

// Register connects to a consumer and starts its writer goroutine,
// returning a session id used later for Unregister.
func (r *Router) Register(cfg ConsumerConfig) (string, error) {
	writer, err := dialEgress(cfg.Protocol, cfg.Address, r.dialTimeout)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	qsize := cfg.QueueSize
	q := newQueue(qsize, cfg.Backpressure, cfg.ThrottleWait)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &consumerSession{id: id, group: cfg.GroupName, queue: q, writer: writer, cancel: cancel}

	r.mu.Lock()
	r.sessions[id] = sess
	group := cfg.GroupName
	if group == "" {
		group = id
	}
	sess.group = group
	r.groups[group] = append(r.groups[group], id)
	if _, ok := r.strategies[group]; !ok {
		r.strategies[group] = NewDispatchStrategy(cfg.DispatchName)
	}
	r.mu.Unlock()

	r.wg.Go(func() { r.writeLoop(ctx, sess) })
	return id, nil
}

// OnPublish registers fn to be called with every packet this router
// publishes, after sequencing but before fan-out. Used to feed a
// multi-modal SyncGroup spanning this stream, without coupling the router
// itself to sync-group matching.
func (r *Router) OnPublish(fn func(Packet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishHooks = append(r.publishHooks, fn)
}

// Unregister disconnects and drops a consumer session.
func (r *Router) Unregister(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConsumer
	}
	delete(r.sessions, id)
	members := r.groups[sess.group]
	for i, m := range members {
		if m == id {
			r.groups[sess.group] = append(members[:i], members[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	sess.cancel()
	return sess.writer.Close()
}

// Publish assigns the next sequence number and fans the packet out to
// exactly one member of every registered replica group, chosen by that
// group's dispatch strategy.
func (r *Router) Publish(p Packet) {
	p.Sequence = r.seq.Add(1)

	r.mu.RLock()
	hooks := append([]func(Packet){}, r.publishHooks...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(p)
	}

	r.mu.RLock()
	type target struct {
		group   string
		members []string
		sess    *consumerSession
	}
	var targets []target
	for group, members := range r.groups {
		if len(members) == 0 {
			continue
		}
		strategy := r.strategies[group]
		picked := strategy.Pick(members, p)
		sess, ok := r.sessions[picked]
		if !ok {
			continue
		}
		targets = append(targets, target{group: group, members: members, sess: sess})
	}
	r.mu.RUnlock()

	for _, t := range targets {
		accepted, evicted := t.sess.queue.push(p)
		r.depth.Set(float64(t.sess.queue.len()), r.stream, t.sess.id)
		if accepted {
			r.sent.Inc(1, r.stream)
		}
		if !accepted || evicted {
			r.dropped.Inc(1, r.stream, t.sess.id)
			if r.bus != nil {
				r.bus.Publish(events.Event{Category: "router", Type: "packet_dropped", Stream: r.stream, Fields: map[string]any{"consumer": t.sess.id}})
			}
		}
	}
}

func (r *Router) writeLoop(ctx context.Context, sess *consumerSession) {
	done := ctx.Done()
	for {
		p, ok := sess.queue.pop(done)
		if !ok {
			return
		}
		if err := sess.writer.WritePacket(p); err != nil {
			r.log.WarnCtx(ctx, "consumer unreachable, dropping session", "stream", r.stream, "consumer", sess.id, "err", err)
			if r.bus != nil {
				r.bus.Publish(events.Event{Category: "router", Type: "consumer_unreachable", Stream: r.stream, Fields: map[string]any{"consumer": sess.id}, Err: err})
			}
			_ = r.Unregister(sess.id)
			return
		}
	}
}

// Close stops the ingress listener, disconnects every consumer, and waits
// for the ingress and writer goroutines to exit.
func (r *Router) Close() error {
	r.ingressCancel()
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Unregister(id)
	}
	r.wg.Wait()
	return nil
}

// ConsumerCount reports the number of live consumer sessions.
func (r *Router) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
