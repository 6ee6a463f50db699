package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

var klineBase = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func writeResult(w http.ResponseWriter, code int, msg string, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"retCode": code,
		"retMsg":  msg,
		"result":  result,
	})
}

// klineHandler serves 15-minute candles newest first, like Bybit. Candle i
// has open price 100+i.
func klineHandler(t *testing.T, calls *int32, malformedAt int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		q := r.URL.Query()
		if q.Get("interval") != "15" || q.Get("category") != "linear" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		step := int64(15 * time.Minute / time.Millisecond)
		first := (start + step - 1) / step * step
		var rows [][]string
		for ms := end / step * step; ms >= first && len(rows) < limit; ms -= step {
			i := (ms - klineBase.UnixMilli()) / step
			p := 100 + float64(i)
			row := []string{
				strconv.FormatInt(ms, 10),
				fmt.Sprint(p), fmt.Sprint(p + 1), fmt.Sprint(p - 1), fmt.Sprint(p),
				"10", "1000",
			}
			if ms == malformedAt {
				row[2] = "not-a-number"
			}
			rows = append(rows, row)
		}
		writeResult(w, 0, "OK", map[string]interface{}{"symbol": q.Get("symbol"), "category": "linear", "list": rows})
	}
}

func newTestBybit(url string) *Bybit {
	b := NewBybit(Options{BaseURL: url, ChunkDays: 1, Workers: 3, MaxRetries: 3}, zerolog.Nop())
	b.backoff = time.Millisecond
	return b
}

func TestBybit_CandlesChunkedAndOrdered(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(klineHandler(t, &calls, 0))
	defer srv.Close()

	b := newTestBybit(srv.URL)
	candles, err := b.Candles(context.Background(), HistoricalRequest{
		Symbol:   "btcusdt",
		Interval: models.Interval15m,
		From:     klineBase,
		To:       klineBase.AddDate(0, 0, 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 3*96 {
		t.Fatalf("expected 288 candles, got %d", len(candles))
	}
	if calls != 3 {
		t.Errorf("expected one request per daily chunk, got %d", calls)
	}
	for i, c := range candles {
		want := klineBase.Add(time.Duration(i) * 15 * time.Minute)
		if !c.Timestamp.Equal(want) {
			t.Fatalf("candle %d at %v, want %v", i, c.Timestamp, want)
		}
	}
	if candles[0].Open != 100 || candles[0].Turnover != 1000 {
		t.Errorf("unexpected first candle %+v", candles[0])
	}
}

func TestBybit_PagesWithinChunk(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(klineHandler(t, &calls, 0))
	defer srv.Close()

	b := newTestBybit(srv.URL)
	b.opts.ChunkDays = 30
	// 15 days of 15m candles = 1440 rows, more than one page.
	candles, err := b.Candles(context.Background(), HistoricalRequest{
		Symbol: "BTCUSDT", Interval: models.Interval15m,
		From: klineBase, To: klineBase.AddDate(0, 0, 15),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1440 || calls != 2 {
		t.Errorf("got %d candles in %d calls, want 1440 in 2", len(candles), calls)
	}
}

func TestBybit_SkipsMalformedRows(t *testing.T) {
	var calls int32
	bad := klineBase.Add(time.Hour).UnixMilli()
	srv := httptest.NewServer(klineHandler(t, &calls, bad))
	defer srv.Close()

	candles, err := newTestBybit(srv.URL).Candles(context.Background(), HistoricalRequest{
		Symbol: "BTCUSDT", Interval: models.Interval15m,
		From: klineBase, To: klineBase.Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 15 {
		t.Fatalf("expected 15 candles after skipping one, got %d", len(candles))
	}
	for _, c := range candles {
		if c.Timestamp.UnixMilli() == bad {
			t.Error("malformed candle should be skipped")
		}
	}
}

func TestBybit_RetriesRateLimit(t *testing.T) {
	var calls int32
	ok := klineHandler(t, new(int32), 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeResult(w, 10006, "Too many visits!", map[string]interface{}{})
			return
		}
		ok(w, r)
	}))
	defer srv.Close()

	candles, err := newTestBybit(srv.URL).Candles(context.Background(), HistoricalRequest{
		Symbol: "BTCUSDT", Interval: models.Interval15m,
		From: klineBase, To: klineBase.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(candles) != 4 {
		t.Errorf("got %d candles after %d calls", len(candles), calls)
	}
}

func TestBybit_ProviderErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeResult(w, 10001, "params error: symbol invalid", map[string]interface{}{})
	}))
	defer srv.Close()

	_, err := newTestBybit(srv.URL).Candles(context.Background(), HistoricalRequest{
		Symbol: "NOPE", Interval: models.Interval15m,
		From: klineBase, To: klineBase.Add(time.Hour),
	})
	var pe *errors.ProviderError
	if !errors.As(err, &pe) || pe.Code != "10001" {
		t.Fatalf("expected ProviderError 10001, got %v", err)
	}
	if !errors.Is(err, errors.ErrSymbolNotFound) {
		t.Error("symbol errors should match ErrSymbolNotFound")
	}
	if calls != 1 {
		t.Errorf("non-throttling errors must not be retried, got %d calls", calls)
	}
}

func TestBybit_UnsupportedInterval(t *testing.T) {
	_, err := newTestBybit("http://127.0.0.1:1").Candles(context.Background(), HistoricalRequest{
		Symbol: "BTCUSDT", Interval: models.Interval("3m"), From: klineBase, To: klineBase.Add(time.Hour),
	})
	if !errors.Is(err, errors.ErrInputValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestBybit_SymbolsFiltersTradingAndPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("cursor") == "" {
			writeResult(w, 0, "OK", map[string]interface{}{
				"list": []map[string]string{
					{"symbol": "SOLUSDT", "status": "Trading"},
					{"symbol": "OLDUSDT", "status": "Closed"},
				},
				"nextPageCursor": "page2",
			})
			return
		}
		writeResult(w, 0, "OK", map[string]interface{}{
			"list":           []map[string]string{{"symbol": "BTCUSDT", "status": "Trading"}},
			"nextPageCursor": "",
		})
	}))
	defer srv.Close()

	symbols, err := newTestBybit(srv.URL).Symbols(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "SOLUSDT" {
		t.Errorf("unexpected symbols %v", symbols)
	}
}

func TestBybit_Ticker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 0, "OK", map[string]interface{}{
			"list": []map[string]string{{
				"symbol": "BTCUSDT", "lastPrice": "66000.5", "highPrice24h": "67000",
				"lowPrice24h": "64000", "prevPrice24h": "60000",
			}},
		})
	}))
	defer srv.Close()

	tk, err := newTestBybit(srv.URL).Ticker(context.Background(), "btcusdt")
	if err != nil {
		t.Fatal(err)
	}
	if tk.LastPrice != 66000.5 || tk.Open24h != 60000 || tk.High24h != 67000 {
		t.Errorf("unexpected ticker %+v", tk)
	}
	if got := tk.ChangePercent(); got < 10.0 || got > 10.01 {
		t.Errorf("ChangePercent = %v", got)
	}
}
