// Package relay fans tracking events out to the connections subscribed to
// each parcel.
package relay

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/metrics"
)

const DefaultQueueSize = 64

// OverflowPolicy decides what happens when a connection's outbound queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued event to make room.
	DropOldest OverflowPolicy = "drop-oldest"
	// Disconnect drops the slow connection entirely.
	Disconnect OverflowPolicy = "disconnect"
)

var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// ParseOverflowPolicy maps a config value to a policy, defaulting to DropOldest.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if OverflowPolicy(s) == Disconnect {
		return Disconnect
	}
	return DropOldest
}

// Subscriber is the outbound side of one connection.
type Subscriber struct {
	id      string
	events  chan domain.Event
	dropped atomic.Uint64
	closed  bool
}

// ID returns the connection id.
func (s *Subscriber) ID() string { return s.id }

// Events yields queued events. The channel is closed when the connection is
// disconnected from the router.
func (s *Subscriber) Events() <-chan domain.Event { return s.events }

// Dropped returns how many events were discarded for this connection.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Router maintains connection -> parcels and parcel -> connections maps.
type Router struct {
	mu      sync.RWMutex
	conns   map[string]*Subscriber
	follows map[string]map[string]struct{}
	parcels map[string]map[string]*Subscriber

	queueSize int
	overflow  OverflowPolicy
	onIdle    func(parcelID string)
	log       zerolog.Logger
}

// NewRouter returns a Router with per-connection queues of queueSize events.
func NewRouter(queueSize int, overflow OverflowPolicy, log zerolog.Logger) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Router{
		conns:     make(map[string]*Subscriber),
		follows:   make(map[string]map[string]struct{}),
		parcels:   make(map[string]map[string]*Subscriber),
		queueSize: queueSize,
		overflow:  overflow,
		log:       log,
	}
}

// OnParcelIdle registers fn to run whenever a parcel loses its last subscriber.
// It must be set before the router is used.
func (r *Router) OnParcelIdle(fn func(parcelID string)) {
	r.onIdle = fn
}

// Connect registers a connection and returns its outbound queue.
func (r *Router) Connect(connID string) (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return nil, ErrDuplicateConnection
	}
	sub := &Subscriber{id: connID, events: make(chan domain.Event, r.queueSize)}
	r.conns[connID] = sub
	r.follows[connID] = make(map[string]struct{})

	metrics.RelayConnections.Inc()
	return sub, nil
}

// Subscribe adds parcelID to the connection's follow set. Subscribing twice is a no-op.
func (r *Router) Subscribe(connID, parcelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, already := r.follows[connID][parcelID]; already {
		return nil
	}
	r.follows[connID][parcelID] = struct{}{}

	set, ok := r.parcels[parcelID]
	if !ok {
		set = make(map[string]*Subscriber)
		r.parcels[parcelID] = set
	}
	set[connID] = sub

	metrics.RelaySubscriptions.Inc()
	return nil
}

// Unsubscribe removes parcelID from the connection's follow set.
func (r *Router) Unsubscribe(connID, parcelID string) error {
	r.mu.Lock()
	if _, ok := r.conns[connID]; !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	idle := r.unsubscribeLocked(connID, parcelID)
	r.mu.Unlock()

	if idle {
		r.parcelIdle(parcelID)
	}
	return nil
}

// Disconnect drops every subscription of the connection and closes its queue.
// Disconnecting an unknown connection is a no-op.
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	sub, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}

	var idle []string
	for parcelID := range r.follows[connID] {
		if r.unsubscribeLocked(connID, parcelID) {
			idle = append(idle, parcelID)
		}
	}
	delete(r.follows, connID)
	delete(r.conns, connID)
	sub.closed = true
	close(sub.events)
	r.mu.Unlock()

	metrics.RelayConnections.Dec()
	sort.Strings(idle)
	for _, parcelID := range idle {
		r.parcelIdle(parcelID)
	}
}

// Publish enqueues ev for every connection subscribed to parcelID and returns
// how many connections received it. It never blocks on a slow connection.
func (r *Router) Publish(parcelID string, ev domain.Event) int {
	var overflowed []string
	delivered := 0

	r.mu.RLock()
	for connID, sub := range r.parcels[parcelID] {
		if r.enqueue(sub, ev) {
			delivered++
			continue
		}
		if r.overflow == Disconnect {
			overflowed = append(overflowed, connID)
		}
	}
	r.mu.RUnlock()

	metrics.FanoutEventsTotal.WithLabelValues(string(ev.Type)).Add(float64(delivered))

	for _, connID := range overflowed {
		r.log.Warn().Str("conn_id", connID).Str("parcel_id", parcelID).Msg("outbound queue full, disconnecting")
		r.Disconnect(connID)
	}
	return delivered
}

// Send enqueues ev for a single connection regardless of its subscriptions.
func (r *Router) Send(connID string, ev domain.Event) error {
	r.mu.RLock()
	sub, ok := r.conns[connID]
	if !ok {
		r.mu.RUnlock()
		return ErrUnknownConnection
	}
	sent := r.enqueue(sub, ev)
	r.mu.RUnlock()

	if !sent && r.overflow == Disconnect {
		r.Disconnect(connID)
	}
	return nil
}

// SubscriberCount returns the number of connections following parcelID.
func (r *Router) SubscriberCount(parcelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parcels[parcelID])
}

// Subscriptions lists the parcels a connection follows, sorted.
func (r *Router) Subscriptions(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.follows[connID]))
	for parcelID := range r.follows[connID] {
		out = append(out, parcelID)
	}
	sort.Strings(out)
	return out
}

// Connections returns the number of registered connections.
func (r *Router) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// enqueue must be called with r.mu held (read or write). It reports false when
// the event could not be queued.
func (r *Router) enqueue(sub *Subscriber, ev domain.Event) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.events <- ev:
		return true
	default:
	}

	if r.overflow == Disconnect {
		sub.dropped.Add(1)
		metrics.FanoutDroppedTotal.WithLabelValues(string(r.overflow)).Inc()
		return false
	}

	// Evict the oldest event. Another publisher or the writer may race us,
	// so both operations stay non-blocking.
	select {
	case <-sub.events:
		sub.dropped.Add(1)
		metrics.FanoutDroppedTotal.WithLabelValues(string(r.overflow)).Inc()
	default:
	}
	select {
	case sub.events <- ev:
		return true
	default:
		sub.dropped.Add(1)
		metrics.FanoutDroppedTotal.WithLabelValues(string(r.overflow)).Inc()
		return false
	}
}

// unsubscribeLocked reports whether parcelID became idle.
func (r *Router) unsubscribeLocked(connID, parcelID string) bool {
	if _, ok := r.follows[connID][parcelID]; !ok {
		return false
	}
	delete(r.follows[connID], parcelID)
	metrics.RelaySubscriptions.Dec()

	set := r.parcels[parcelID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.parcels, parcelID)
		return true
	}
	return false
}

func (r *Router) parcelIdle(parcelID string) {
	if r.onIdle != nil {
		r.onIdle(parcelID)
	}
}
