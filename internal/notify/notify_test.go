package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/analysis/pivots"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func (r *recordingPublisher) FlushTimeout(time.Duration) error { return nil }

func livePivots(p1, p2 int) pivots.LivePivots {
	return pivots.LivePivots{
		State:  pivots.StateBothFormed,
		P1Slot: &p1, P2Slot: &p2,
		P1Kind: pivots.KindHigh, P2Kind: pivots.KindLow,
	}
}

func TestNATSNotifier_Subjects(t *testing.T) {
	pub := &recordingPublisher{}
	n := newNATSNotifier(pub, "md.", zerolog.Nop())
	ctx := context.Background()

	table := pivots.EmptyTable(pivots.Daily, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := n.PublishTable(ctx, "BTCUSDT", "daily", table); err != nil {
		t.Fatal(err)
	}
	if err := n.PublishLive(ctx, "BTCUSDT", "4h", livePivots(1, 3), pivots.Assessment{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"md.pivots.BTCUSDT.daily", "md.live.BTCUSDT.4h"}
	for i, s := range want {
		if pub.subjects[i] != s {
			t.Errorf("subject %d = %q, want %q", i, pub.subjects[i], s)
		}
	}

	var ev LiveEvent
	if err := json.Unmarshal(pub.payloads[1], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventLive || *ev.Live.P2Slot != 3 {
		t.Errorf("unexpected live payload %+v", ev)
	}
	if got := n.Subject("live", "a.b*", "x>"); got != "md.live.a_b_.x_" {
		t.Errorf("wildcards should be escaped, got %q", got)
	}
}

func TestTerminal_MarksMovedSlots(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false, true)
	ctx := context.Background()

	term.PublishLive(ctx, "ETHUSDT", "daily", livePivots(3, 9), pivots.Assessment{})
	term.PublishLive(ctx, "ETHUSDT", "daily", livePivots(3, 9), pivots.Assessment{})
	term.PublishLive(ctx, "ETHUSDT", "daily", livePivots(3, 11), pivots.Assessment{})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if strings.Contains(lines[1], "MOVED") {
		t.Error("unchanged slots should not be marked")
	}
	if !strings.HasPrefix(lines[2], "\a") || !strings.Contains(lines[2], "MOVED") || !strings.Contains(lines[2], "P2 11:00") {
		t.Errorf("moved slots should ring and be marked: %q", lines[2])
	}
}

type countingNotifier struct{ tables, lives int }

func (c *countingNotifier) PublishTable(context.Context, string, string, pivots.Table) error {
	c.tables++
	return nil
}

func (c *countingNotifier) PublishLive(context.Context, string, string, pivots.LivePivots, pivots.Assessment) error {
	c.lives++
	return nil
}

func (c *countingNotifier) Close() error { return nil }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := NewMulti(a, nil, b, NewLogNotifier(zerolog.Nop()))
	m.PublishTable(context.Background(), "BTCUSDT", "daily", pivots.Table{})
	m.PublishLive(context.Background(), "BTCUSDT", "daily", pivots.LivePivots{State: pivots.StateNoData}, pivots.Assessment{})
	if a.tables != 1 || b.tables != 1 || a.lives != 1 || b.lives != 1 {
		t.Errorf("unexpected counts %+v %+v", a, b)
	}
}
