// Package notify publishes pivot tables and live pivot changes.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/analysis/pivots"
)

// Notifier defines the interface for publishing analysis results.
type Notifier interface {
	PublishTable(ctx context.Context, symbol, timeframe string, table pivots.Table) error
	PublishLive(ctx context.Context, symbol, timeframe string, live pivots.LivePivots, a pivots.Assessment) error
	Close() error
}

// EventType labels a published message.
type EventType string

const (
	EventTable EventType = "table"
	EventLive  EventType = "live"
)

// TableEvent is the payload of a table publication.
type TableEvent struct {
	Type        EventType    `json:"type"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	Table       pivots.Table `json:"table"`
	PublishedAt time.Time    `json:"published_at"`
}

// LiveEvent is the payload of a live pivot publication.
type LiveEvent struct {
	Type        EventType         `json:"type"`
	Symbol      string            `json:"symbol"`
	Timeframe   string            `json:"timeframe"`
	Live        pivots.LivePivots `json:"live"`
	Assessment  pivots.Assessment `json:"assessment"`
	PublishedAt time.Time         `json:"published_at"`
}

// Summary renders a one-line description of a live event.
func (e LiveEvent) Summary() string {
	if !e.Live.Formed() {
		return fmt.Sprintf("%s %s: no data in current bucket", e.Symbol, e.Timeframe)
	}
	tf, err := pivots.ParseTimeframe(e.Timeframe)
	if err != nil {
		return fmt.Sprintf("%s %s: P1 %d P2 %d", e.Symbol, e.Timeframe, *e.Live.P1Slot, *e.Live.P2Slot)
	}
	s := fmt.Sprintf("%s %s: P1 %s (%s) P2 %s (%s)",
		e.Symbol, e.Timeframe,
		tf.Slot.Label(*e.Live.P1Slot), e.Live.P1Kind,
		tf.Slot.Label(*e.Live.P2Slot), e.Live.P2Kind)
	if e.Assessment.FlipRisk != nil {
		s += fmt.Sprintf(", flip risk %s", e.Assessment.FlipRisk.Band.RiskLabel())
	}
	return s
}

// Multi fans a publication out to several notifiers.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMulti creates a Multi over ns. Nil entries are skipped.
func NewMulti(ns ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range ns {
		m.Add(n)
	}
	return m
}

// Add registers another notifier.
func (m *Multi) Add(n Notifier) {
	if n == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

func (m *Multi) each(fn func(Notifier) error) error {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	var errs []string
	for _, n := range notifiers {
		if err := fn(n); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PublishTable publishes to every notifier.
func (m *Multi) PublishTable(ctx context.Context, symbol, timeframe string, table pivots.Table) error {
	return m.each(func(n Notifier) error { return n.PublishTable(ctx, symbol, timeframe, table) })
}

// PublishLive publishes to every notifier.
func (m *Multi) PublishLive(ctx context.Context, symbol, timeframe string, live pivots.LivePivots, a pivots.Assessment) error {
	return m.each(func(n Notifier) error { return n.PublishLive(ctx, symbol, timeframe, live, a) })
}

// Close closes every notifier.
func (m *Multi) Close() error {
	return m.each(func(n Notifier) error { return n.Close() })
}

// LogNotifier writes publications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) PublishTable(_ context.Context, symbol, timeframe string, table pivots.Table) error {
	p1, p2 := table.Counts()
	l.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("completed_buckets", table.CompletedBuckets).
		Int("p1_total", p1).
		Int("p2_total", p2).
		Msg("Pivot table refreshed")
	return nil
}

func (l *LogNotifier) PublishLive(_ context.Context, symbol, timeframe string, live pivots.LivePivots, a pivots.Assessment) error {
	ev := LiveEvent{Symbol: symbol, Timeframe: timeframe, Live: live, Assessment: a}
	l.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Str("state", string(live.State)).
		Msg(ev.Summary())
	return nil
}

func (l *LogNotifier) Close() error { return nil }
