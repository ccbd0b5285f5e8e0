package whatsapp

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the per-subscriber buffer when none is configured.
const DefaultQueueSize = 256

// Delivery is one event as seen by a subscriber. ID is unique and increases
// with emission time, so stream clients can de-duplicate after a reconnect.
type Delivery struct {
	ID    int64
	Event Event
}

// EventBus fans events from every session out to every subscriber. Publish
// never blocks on a subscriber: a full subscriber queue loses its oldest
// entry instead. There is no replay for late subscribers.
type EventBus struct {
	bus       evbus.Bus
	node      *snowflake.Node
	queueSize int

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewEventBus creates a bus whose subscribers buffer up to queueSize events.
func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		// node 1 is always within range
		panic(err)
	}
	b := &EventBus{
		bus:       evbus.New(),
		node:      node,
		queueSize: queueSize,
		subs:      make(map[string]*Subscription),
	}
	for _, kind := range []EventKind{KindStatusChanged, KindMessageReceived, KindCallReceived} {
		if err := b.bus.Subscribe(string(kind), b.dispatch); err != nil {
			panic(err)
		}
	}
	return b
}

// Publish emits ev to all current subscribers.
func (b *EventBus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.bus.Publish(string(ev.Kind()), ev)
}

func (b *EventBus) dispatch(ev Event) {
	d := Delivery{ID: b.node.Generate().Int64(), Event: ev}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.wants(ev.SlotID()) {
			sub.offer(d)
		}
	}
}

// SubscribeOption customises a subscription.
type SubscribeOption func(*Subscription)

// WithSlots restricts a subscription to events of the given slots.
func WithSlots(ids ...string) SubscribeOption {
	return func(s *Subscription) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if s.slots == nil {
				s.slots = make(map[string]struct{})
			}
			s.slots[id] = struct{}{}
		}
	}
}

// WithQueueSize overrides the bus default buffer for one subscription.
func WithQueueSize(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.size = n
		}
	}
}

// Subscribe registers a new subscriber. It only sees events published after
// this call returns.
func (b *EventBus) Subscribe(opts ...SubscribeOption) *Subscription {
	sub := &Subscription{id: uuid.NewString(), bus: b, size: b.queueSize}
	for _, opt := range opts {
		opt(sub)
	}
	sub.ch = make(chan Delivery, sub.size)
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	zap.L().Debug("whatsapp: event subscriber added", zap.String("subscriber", sub.id), zap.Int("queue", sub.size))
	return sub
}

// Subscribers returns the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.shut()
	}
}

func (b *EventBus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is a bounded, lossy queue of deliveries for one consumer.
type Subscription struct {
	id    string
	bus   *EventBus
	size  int
	slots map[string]struct{}
	ch    chan Delivery

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// Dropped counts events discarded because the consumer fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the delivery channel.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shut()
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) wants(slot string) bool {
	if len(s.slots) == 0 {
		return true
	}
	_, ok := s.slots[slot]
	return ok
}

func (s *Subscription) offer(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- d:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
