// Package stream evaluates live pivots on a timer and fans the snapshots out
// to subscribers.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/analysis"
	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/models"
	"pivotscope/internal/notify"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// Interval is the time between evaluation rounds.
	Interval time.Duration
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Interval:             30 * time.Second,
		SubscriberBufferSize: 16,
	}
}

// LiveEvaluator computes live pivots. *analysis.Analyzer satisfies it.
type LiveEvaluator interface {
	Live(ctx context.Context, symbol, timeframe string, now time.Time) (*analysis.LiveReport, error)
}

// Key identifies one live stream.
type Key struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// NewKey normalises and validates a stream key.
func NewKey(symbol, timeframe string) (Key, error) {
	tf, err := pivots.ParseTimeframe(timeframe)
	if err != nil {
		return Key{}, err
	}
	return Key{Symbol: models.NormalizeSymbol(symbol), Timeframe: tf.Name}, nil
}

// Snapshot is one evaluation pushed to subscribers. Changed is set when the
// live P1/P2 slots differ from the previous round.
type Snapshot struct {
	analysis.LiveReport
	Changed bool `json:"changed"`
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan Snapshot
	DroppedCount int
	CreatedAt    time.Time
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Rounds      uint64 `json:"rounds"`
	Evaluations uint64 `json:"evaluations"`
	Errors      uint64 `json:"errors"`
	Broadcast   uint64 `json:"broadcast"`
	Dropped     uint64 `json:"dropped"`
	Published   uint64 `json:"published"`
	Subscribers int    `json:"subscribers"`
	Streams     int    `json:"streams"`
}

// Hub keeps subscribers per (symbol, timeframe) and pushes a fresh snapshot
// to each of them every round.
type Hub struct {
	config      HubConfig
	eval        LiveEvaluator
	notifier    notify.Notifier
	logger      zerolog.Logger
	now         func() time.Time
	mu          sync.RWMutex
	subscribers map[Key][]*Subscriber
	last        map[Key]pivots.LivePivots
	done        chan struct{}
	started     bool

	metricsMu sync.Mutex
	metrics   HubMetrics
}

// NewHub creates a hub. notifier may be nil.
func NewHub(eval LiveEvaluator, notifier notify.Notifier, config HubConfig, logger zerolog.Logger) *Hub {
	d := DefaultHubConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = d.SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		eval:        eval,
		notifier:    notifier,
		logger:      logger.With().Str("component", "stream").Logger(),
		now:         time.Now,
		subscribers: make(map[Key][]*Subscriber),
		last:        make(map[Key]pivots.LivePivots),
	}
}

// Start begins the evaluation loop.
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

	go h.loop(ctx, done)
}

func (h *Hub) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			h.Evaluate(ctx, h.now())
		}
	}
}

// Stop stops the loop and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		close(h.done)
		h.started = false
	}
	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// Subscribe adds a subscriber for key and returns its channel.
func (h *Hub) Subscribe(key Key, id string) <-chan Snapshot {
	ch := make(chan Snapshot, h.config.SubscriberBufferSize)
	sub := &Subscriber{ID: id, Channel: ch, CreatedAt: h.now()}

	h.mu.Lock()
	h.subscribers[key] = append(h.subscribers[key], sub)
	h.mu.Unlock()

	h.logger.Debug().Str("symbol", key.Symbol).Str("timeframe", key.Timeframe).Str("id", id).Msg("Subscriber added")
	return ch
}

// Unsubscribe removes and closes a subscriber channel. The stream's last
// snapshot is forgotten once it has no subscribers.
func (h *Hub) Unsubscribe(key Key, ch <-chan Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[key]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[key]) == 0 {
		delete(h.subscribers, key)
		delete(h.last, key)
	}
}

// Keys returns the streams with active subscribers, sorted.
func (h *Hub) Keys() []Key {
	h.mu.RLock()
	keys := make([]Key, 0, len(h.subscribers))
	for k := range h.subscribers {
		keys = append(keys, k)
	}
	h.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	return keys
}

// Evaluate runs one round: every active stream is evaluated at now and the
// snapshot broadcast. Slot changes are published to the notifier.
func (h *Hub) Evaluate(ctx context.Context, now time.Time) {
	h.count(func(m *HubMetrics) { m.Rounds++ })
	for _, key := range h.Keys() {
		if ctx.Err() != nil {
			return
		}
		report, err := h.eval.Live(ctx, key.Symbol, key.Timeframe, now)
		if err != nil {
			h.count(func(m *HubMetrics) { m.Errors++ })
			h.logger.Warn().Err(err).Str("symbol", key.Symbol).Str("timeframe", key.Timeframe).Msg("Live evaluation failed")
			continue
		}
		h.count(func(m *HubMetrics) { m.Evaluations++ })

		h.mu.Lock()
		prev, seen := h.last[key]
		changed := !seen || !prev.SameSlots(report.Live)
		if _, active := h.subscribers[key]; active {
			h.last[key] = report.Live
		}
		h.mu.Unlock()

		h.broadcast(key, Snapshot{LiveReport: *report, Changed: changed})

		if changed && h.notifier != nil {
			if err := h.notifier.PublishLive(ctx, key.Symbol, key.Timeframe, report.Live, report.Assessment); err != nil {
				h.logger.Warn().Err(err).Str("symbol", key.Symbol).Msg("Publish live failed")
			} else {
				h.count(func(m *HubMetrics) { m.Published++ })
			}
		}
	}
}

// broadcast sends a snapshot to every subscriber of key without blocking.
func (h *Hub) broadcast(key Key, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers[key] {
		select {
		case sub.Channel <- snap:
			h.count(func(m *HubMetrics) { m.Broadcast++ })
		default:
			sub.DroppedCount++
			h.count(func(m *HubMetrics) { m.Dropped++ })
		}
	}
}

func (h *Hub) count(fn func(*HubMetrics)) {
	h.metricsMu.Lock()
	fn(&h.metrics)
	h.metricsMu.Unlock()
}

// SubscriberCount returns the number of subscribers for key.
func (h *Hub) SubscriberCount(key Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	subs := 0
	for _, s := range h.subscribers {
		subs += len(s)
	}
	streams := len(h.subscribers)
	h.mu.RUnlock()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	m := h.metrics
	m.Subscribers = subs
	m.Streams = streams
	return m
}

// IsStarted returns whether the loop is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
