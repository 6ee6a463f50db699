package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"pivotscope/internal/analysis"
	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/errors"
)

// stepEvaluator moves the live P2 one slot per call, per stream.
type stepEvaluator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (s *stepEvaluator) Live(_ context.Context, symbol, timeframe string, now time.Time) (*analysis.LiveReport, error) {
	if symbol == s.fail {
		return nil, errors.ErrProviderUnavailable
	}
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	n := s.calls[symbol+timeframe]
	s.calls[symbol+timeframe]++
	s.mu.Unlock()

	p1, p2 := 0, 1+n/2
	return &analysis.LiveReport{
		Symbol:      symbol,
		Timeframe:   timeframe,
		Live:        pivots.LivePivots{State: pivots.StateBothFormed, P1Slot: &p1, P2Slot: &p2},
		EvaluatedAt: now,
	}, nil
}

type liveCounter struct {
	mu    sync.Mutex
	count int
}

func (c *liveCounter) PublishTable(context.Context, string, string, pivots.Table) error { return nil }
func (c *liveCounter) PublishLive(context.Context, string, string, pivots.LivePivots, pivots.Assessment) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}
func (c *liveCounter) Close() error { return nil }

// Property: every subscriber with room in its buffer receives one snapshot
// per round, for its own stream only.
func TestProperty_SubscribersReceiveEveryRound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	properties.Property("fast subscribers get every round", prop.ForAll(
		func(subscriberCount, rounds, symbolIdx int) bool {
			hub := NewHub(&stepEvaluator{}, nil, HubConfig{SubscriberBufferSize: 32}, zerolog.Nop())
			defer hub.Stop()

			key := Key{Symbol: symbols[symbolIdx], Timeframe: "daily"}
			other := hub.Subscribe(Key{Symbol: "OTHER", Timeframe: "weekly"}, "other")
			chans := make([]<-chan Snapshot, subscriberCount)
			for i := range chans {
				chans[i] = hub.Subscribe(key, fmt.Sprint(i))
			}

			now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			for r := 0; r < rounds; r++ {
				hub.Evaluate(context.Background(), now.Add(time.Duration(r)*time.Minute))
			}

			for _, ch := range chans {
				if len(ch) != rounds {
					return false
				}
				snap := <-ch
				if snap.Symbol != key.Symbol || !snap.Changed {
					return false
				}
			}
			for len(other) > 0 {
				if (<-other).Symbol != "OTHER" {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 20),
		gen.IntRange(0, len(symbols)-1),
	))

	properties.TestingRun(t)
}

// Property: a subscriber that never reads does not stop others from
// receiving; its overflow is counted as dropped.
func TestProperty_SlowConsumersDoNotBlockOthers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("slow consumers are skipped", prop.ForAll(
		func(rounds int) bool {
			hub := NewHub(&stepEvaluator{}, nil, HubConfig{SubscriberBufferSize: 2}, zerolog.Nop())
			defer hub.Stop()

			key := Key{Symbol: "BTCUSDT", Timeframe: "4h"}
			fast := hub.Subscribe(key, "fast")
			_ = hub.Subscribe(key, "slow")

			received := 0
			for r := 0; r < rounds; r++ {
				hub.Evaluate(context.Background(), time.Now())
				for len(fast) > 0 {
					<-fast
					received++
				}
			}
			m := hub.Metrics()
			return received == rounds && m.Dropped == uint64(rounds-2)
		},
		gen.IntRange(3, 30),
	))

	properties.TestingRun(t)
}

func TestHub_PublishesOnlySlotChanges(t *testing.T) {
	pub := &liveCounter{}
	hub := NewHub(&stepEvaluator{}, pub, HubConfig{SubscriberBufferSize: 8}, zerolog.Nop())
	defer hub.Stop()

	key, err := NewKey("btcusdt", "1d")
	if err != nil {
		t.Fatal(err)
	}
	if key.Symbol != "BTCUSDT" || key.Timeframe != "daily" {
		t.Fatalf("unexpected key %+v", key)
	}
	ch := hub.Subscribe(key, "a")

	// P2 advances every second call: slots 1,1,2,2.
	for i := 0; i < 4; i++ {
		hub.Evaluate(context.Background(), time.Now())
	}
	var changed []bool
	for len(ch) > 0 {
		changed = append(changed, (<-ch).Changed)
	}
	want := []bool{true, false, true, false}
	if fmt.Sprint(changed) != fmt.Sprint(want) {
		t.Errorf("changed flags = %v, want %v", changed, want)
	}
	if pub.count != 2 {
		t.Errorf("published %d times, want 2", pub.count)
	}
}

func TestHub_ErrorsAndUnsubscribe(t *testing.T) {
	hub := NewHub(&stepEvaluator{fail: "BADUSDT"}, nil, DefaultHubConfig(), zerolog.Nop())

	bad := Key{Symbol: "BADUSDT", Timeframe: "daily"}
	ch := hub.Subscribe(bad, "x")
	hub.Evaluate(context.Background(), time.Now())
	if len(ch) != 0 || hub.Metrics().Errors != 1 {
		t.Errorf("failed evaluation should not broadcast: %+v", hub.Metrics())
	}

	hub.Unsubscribe(bad, ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if hub.SubscriberCount(bad) != 0 || len(hub.Keys()) != 0 {
		t.Error("stream should be removed with its last subscriber")
	}

	if _, err := NewKey("BTCUSDT", "yearly"); !errors.Is(err, errors.ErrInvalidTimeframe) {
		t.Errorf("expected ErrInvalidTimeframe, got %v", err)
	}
}

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(&stepEvaluator{}, nil, HubConfig{Interval: 5 * time.Millisecond}, zerolog.Nop())
	ch := hub.Subscribe(Key{Symbol: "BTCUSDT", Timeframe: "hourly"}, "loop")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Start(ctx)
	select {
	case snap := <-ch:
		if snap.Symbol != "BTCUSDT" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot from the loop")
	}
	hub.Stop()
	if hub.IsStarted() {
		t.Error("hub should be stopped")
	}
	for range ch {
	}
}
