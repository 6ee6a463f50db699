package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), WithSymbol(logger, "BTCUSDT"))
	ctxLogger := FromContext(ctx)
	ctxLogger.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"symbol":"BTCUSDT"`) {
		t.Errorf("context logger lost its fields: %s", buf.String())
	}

	// Without a logger the fallback discards output.
	fallback := FromContext(context.Background())
	fallback.Info().Msg("dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("fallback logger should be a no-op")
	}
}

func TestLogProviderCall(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	LogProviderCall(zerolog.New(&buf), "bybit", "/v5/market/kline", 0, nil)
	if !strings.Contains(buf.String(), `"provider":"bybit"`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}
