package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pivotscope/internal/analysis/pivots"
)

// Terminal prints publications as single colored lines. It rings the bell
// when the live P1/P2 slots move.
type Terminal struct {
	mu           sync.Mutex
	out          io.Writer
	colorEnabled bool
	bellEnabled  bool
	last         map[string]pivots.LivePivots
	now          func() time.Time
}

// NewTerminal creates a terminal notifier writing to out.
func NewTerminal(out io.Writer, color, bell bool) *Terminal {
	return &Terminal{
		out:          out,
		colorEnabled: color,
		bellEnabled:  bell,
		last:         make(map[string]pivots.LivePivots),
		now:          time.Now,
	}
}

func (t *Terminal) PublishTable(_ context.Context, symbol, timeframe string, table pivots.Table) error {
	p1, p2 := table.Counts()
	msg := fmt.Sprintf("table refreshed: %d completed buckets, peaks P1 %.1f%% P2 %.1f%% (%d/%d pivots)",
		table.CompletedBuckets, table.MaxP1Pct(), table.MaxP2Pct(), p1, p2)
	return t.write("\033[36m", "TABLE", symbol, timeframe, msg)
}

func (t *Terminal) PublishLive(_ context.Context, symbol, timeframe string, live pivots.LivePivots, a pivots.Assessment) error {
	key := symbol + "/" + timeframe
	t.mu.Lock()
	prev, seen := t.last[key]
	t.last[key] = live
	t.mu.Unlock()

	label, color := "LIVE", "\033[37m"
	if seen && !prev.SameSlots(live) {
		label, color = "MOVED", "\033[33m"
		if t.bellEnabled {
			io.WriteString(t.out, "\a")
		}
	}
	ev := LiveEvent{Symbol: symbol, Timeframe: timeframe, Live: live, Assessment: a}
	return t.write(color, label, symbol, timeframe, ev.Summary())
}

func (t *Terminal) write(color, label, symbol, timeframe, msg string) error {
	var sb strings.Builder
	reset := ""
	if t.colorEnabled {
		reset = "\033[0m"
	} else {
		color = ""
	}
	sb.WriteString(fmt.Sprintf("%s[%s] %-5s%s | %s %s | %s\n",
		color, t.now().Format("15:04:05"), label, reset, symbol, timeframe, msg))

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.out, sb.String())
	return err
}

func (t *Terminal) Close() error { return nil }
