// Package stream distributes market snapshots from the engine to live
// subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
)

// EventKind names the engine hook that produced an update.
type EventKind string

const (
	EventPriceUpdate  EventKind = "price_update"
	EventSessionClose EventKind = "session_close"
)

// Update is one market snapshot delivered to subscribers. The Instruments
// map is shared between subscribers and must be treated as read-only.
type Update struct {
	Event EventKind          `json:"event"`
	State models.MarketState `json:"state"`
}

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal update channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           256,
		SubscriberBufferSize: 32,
	}
}

// Hub fans engine snapshots out to subscribers. Publishing never blocks:
// a full hub buffer or subscriber buffer drops the update and counts it.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	updates     chan Update
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	metricsMu sync.RWMutex
	received  uint64
	delivered uint64
	dropped   uint64
}

// Subscriber is one live consumer of updates, optionally limited to symbols.
type Subscriber struct {
	ID        string
	CreatedAt time.Time

	symbols map[string]bool
	ch      chan Update
	dropped uint64
}

// C returns the subscriber's update channel; it is closed on unsubscribe or hub stop.
func (s *Subscriber) C() <-chan Update {
	return s.ch
}

// Symbols returns the subscriber's filter; empty means every instrument.
func (s *Subscriber) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// NewHub creates a new stream hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		logger:      logging.WithComponent(logger, "stream"),
		subscribers: make(map[string]*Subscriber),
		updates:     make(chan Update, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop. It stops when ctx is cancelled
// or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go h.broadcastLoop(ctx, done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-done:
			return
		case u := <-h.updates:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.broadcast(u)
			h.notifyConsumers(u)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// OnPriceUpdate publishes an intraday snapshot.
func (h *Hub) OnPriceUpdate(state models.MarketState) {
	h.Publish(Update{Event: EventPriceUpdate, State: state})
}

// OnSessionClose publishes a closing snapshot.
func (h *Hub) OnSessionClose(state models.MarketState) {
	h.Publish(Update{Event: EventSessionClose, State: state})
}

// Publish queues an update for distribution, dropping it if the buffer is full.
func (h *Hub) Publish(u Update) {
	select {
	case h.updates <- u:
	default:
		h.recordDrop()
	}
}

func (h *Hub) recordDrop() {
	h.metricsMu.Lock()
	h.dropped++
	h.metricsMu.Unlock()
	metrics.StreamDropped.Inc()
}

// Subscribe registers a subscriber. With no symbols every instrument is delivered.
func (h *Hub) Subscribe(symbols ...string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		ch:        make(chan Update, h.config.SubscriberBufferSize),
	}
	if len(symbols) > 0 {
		sub.symbols = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			sub.symbols[s] = true
		}
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug().Str("subscriber", sub.ID).Strs("symbols", symbols).Msg("Subscribed")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	close(sub.ch)
	delete(h.subscribers, sub.ID)
}

// broadcast delivers an update to every subscriber with non-blocking sends.
func (h *Hub) broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		out := u
		if len(sub.symbols) > 0 {
			out.State = filterState(u.State, sub.symbols)
		}
		select {
		case sub.ch <- out:
			h.metricsMu.Lock()
			h.delivered++
			h.metricsMu.Unlock()
		default:
			// Skip slow consumers - non-blocking
			sub.dropped++
			h.recordDrop()
		}
	}
}

func filterState(state models.MarketState, symbols map[string]bool) models.MarketState {
	out := state
	out.Instruments = make(map[string]models.InstrumentState, len(symbols))
	for sym := range symbols {
		if st, ok := state.Instruments[sym]; ok {
			out.Instruments[sym] = st
		}
	}
	return out
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	Received    uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Metrics returns hub metrics.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	m := HubMetrics{
		Received:  h.received,
		Delivered: h.delivered,
		Dropped:   h.dropped,
	}
	h.metricsMu.RUnlock()
	m.Subscribers = h.SubscriberCount()
	return m
}

// Consumer processes updates on the hub's distribution goroutine, in
// publication order. Implementations must return quickly.
type Consumer interface {
	OnUpdate(u Update)
	// Symbols returns the symbols this consumer is interested in.
	// Return nil or empty slice to receive all updates.
	Symbols() []string
}

// RegisterConsumer adds a consumer to receive updates.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

func (h *Hub) notifyConsumers(u Update) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		if symbols := consumer.Symbols(); len(symbols) > 0 {
			set := make(map[string]bool, len(symbols))
			for _, s := range symbols {
				set[s] = true
			}
			consumer.OnUpdate(Update{Event: u.Event, State: filterState(u.State, set)})
			continue
		}
		consumer.OnUpdate(u)
	}
}

// ConsumerFunc is a function adapter for Consumer interface.
type ConsumerFunc struct {
	symbols  []string
	onUpdate func(Update)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(symbols []string, onUpdate func(Update)) *ConsumerFunc {
	return &ConsumerFunc{
		symbols:  symbols,
		onUpdate: onUpdate,
	}
}

// OnUpdate implements Consumer.
func (c *ConsumerFunc) OnUpdate(u Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

// Symbols implements Consumer.
func (c *ConsumerFunc) Symbols() []string {
	return c.symbols
}
