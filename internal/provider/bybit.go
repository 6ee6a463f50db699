package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/models"
	"pivotscope/internal/performance"
	"pivotscope/pkg/utils"
)

const (
	// DefaultBybitURL is the public v5 REST endpoint.
	DefaultBybitURL = "https://api.bybit.com"

	bybitKlineLimit = 1000
	bybitName       = "bybit"
)

var bybitIntervals = map[models.Interval]string{
	models.Interval15m: "15",
	models.Interval1h:  "60",
	models.Interval4h:  "240",
	models.Interval1d:  "D",
	models.Interval1w:  "W",
}

// Bybit reads public market data from the Bybit v5 REST API.
type Bybit struct {
	client  *resty.Client
	opts    Options
	limiter *performance.RateLimiter
	logger  zerolog.Logger
	backoff time.Duration
}

// NewBybit creates a Bybit provider.
func NewBybit(opts Options, logger zerolog.Logger) *Bybit {
	opts = opts.withDefaults()
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBybitURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	return &Bybit{
		client:  client,
		opts:    opts,
		limiter: performance.NewRateLimiter(opts.RateLimit, int(opts.RateLimit)),
		logger:  logger.With().Str("provider", bybitName).Logger(),
		backoff: time.Second,
	}
}

func (b *Bybit) Name() string { return bybitName }

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// get performs one GET and decodes the result field into out.
func (b *Bybit) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	err = b.check(endpoint, resp, err, out)
	logging.LogProviderCall(b.logger, bybitName, endpoint, time.Since(start), err)
	return err
}

func (b *Bybit) check(endpoint string, resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return fmt.Errorf("bybit %s: %w: %v", endpoint, errors.ErrProviderUnavailable, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return errors.NewProviderError(bybitName, strconv.Itoa(resp.StatusCode()), "rate limit exceeded", errors.ErrRateLimited)
	}
	if resp.IsError() {
		return errors.NewProviderError(bybitName, strconv.Itoa(resp.StatusCode()), resp.Status(), errors.ErrProviderUnavailable)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.NewProviderError(bybitName, "decode", "invalid response body", err)
	}
	if env.RetCode != 0 {
		var cause error
		if strings.Contains(strings.ToLower(env.RetMsg), "symbol") {
			cause = errors.ErrSymbolNotFound
		}
		return errors.NewProviderError(bybitName, strconv.Itoa(env.RetCode), env.RetMsg, cause)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.NewProviderError(bybitName, "decode", "invalid result", err)
	}
	return nil
}

// getWithRetry retries rate limits and transport failures with exponential
// backoff. Other provider errors fail at once.
func (b *Bybit) getWithRetry(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	cfg := utils.RetryConfig{
		MaxAttempts:   b.opts.MaxRetries,
		InitialDelay:  b.backoff,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		ShouldRetry: func(err error) bool {
			return errors.IsRateLimit(err) || errors.Is(err, errors.ErrProviderUnavailable)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			b.logger.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).
				Dur("backoff", delay).Msg("Retrying provider call")
		},
	}
	return utils.Retry(ctx, cfg, func() error {
		return b.get(ctx, endpoint, params, out)
	})
}

// ============================================================================
// Klines
// ============================================================================

type bybitKlineResult struct {
	Symbol   string     `json:"symbol"`
	Category string     `json:"category"`
	List     [][]string `json:"list"`
}

// Candles fetches [From, To) in ChunkDays windows with up to Workers
// concurrent requests.
func (b *Bybit) Candles(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	interval, ok := bybitIntervals[req.Interval]
	if !ok {
		return nil, errors.NewValidationError("interval", req.Interval, "not supported by bybit")
	}
	symbol := models.NormalizeSymbol(req.Symbol)
	chunks := utils.SplitRange(req.From, req.To, time.Duration(b.opts.ChunkDays)*24*time.Hour)
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([][]models.Candle, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			candles, err := b.fetchChunk(gctx, symbol, interval, chunk)
			if err != nil {
				return err
			}
			results[i] = candles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Candle
	for _, r := range results {
		all = append(all, r...)
	}
	all = normalize(all)

	out := all[:0]
	for _, c := range all {
		if !c.Timestamp.Before(req.From) && c.Timestamp.Before(req.To) {
			out = append(out, c)
		}
	}
	return out, nil
}

// fetchChunk pages backwards from the end of the chunk. Bybit returns rows
// newest first and treats end as inclusive.
func (b *Bybit) fetchChunk(ctx context.Context, symbol, interval string, chunk utils.TimeRange) ([]models.Candle, error) {
	startMs := chunk.From.UnixMilli()
	endMs := chunk.To.UnixMilli() - 1

	var candles []models.Candle
	for endMs >= startMs {
		var res bybitKlineResult
		params := map[string]string{
			"category": b.opts.Category,
			"symbol":   symbol,
			"interval": interval,
			"start":    strconv.FormatInt(startMs, 10),
			"end":      strconv.FormatInt(endMs, 10),
			"limit":    strconv.Itoa(bybitKlineLimit),
		}
		if err := b.getWithRetry(ctx, "/v5/market/kline", params, &res); err != nil {
			return nil, err
		}
		if len(res.List) == 0 {
			break
		}

		oldest := endMs
		for _, row := range res.List {
			c, err := parseBybitRow(symbol, row)
			if err != nil {
				b.logger.Warn().Err(err).Str("symbol", symbol).Msg("Skipping malformed candle")
				continue
			}
			candles = append(candles, c)
			if ms := c.Timestamp.UnixMilli(); ms < oldest {
				oldest = ms
			}
		}

		if len(res.List) < bybitKlineLimit || oldest <= startMs {
			break
		}
		endMs = oldest - 1
	}

	// rows arrived newest first
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// parseBybitRow parses [start_ms, open, high, low, close, volume, turnover].
func parseBybitRow(symbol string, row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, errors.NewCandleError(symbol, time.Time{}, fmt.Sprintf("expected 7 fields, got %d", len(row)))
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, errors.NewCandleError(symbol, time.Time{}, "bad start time "+row[0])
	}
	ts := time.UnixMilli(ms).UTC()

	fields := make([]float64, 6)
	for i := 1; i < len(row) && i <= 6; i++ {
		d, err := decimal.NewFromString(row[i])
		if err != nil {
			return models.Candle{}, errors.NewCandleError(symbol, ts, fmt.Sprintf("bad number %q", row[i]))
		}
		fields[i-1] = d.InexactFloat64()
	}

	c := models.Candle{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Turnover:  fields[5],
	}
	if err := c.Validate(symbol); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}

// ============================================================================
// Instruments & Tickers
// ============================================================================

type bybitInstrumentsResult struct {
	List []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// Symbols lists instruments whose status is Trading.
func (b *Bybit) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	cursor := ""
	for page := 0; page < 20; page++ {
		params := map[string]string{
			"category": b.opts.Category,
			"limit":    "1000",
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var res bybitInstrumentsResult
		if err := b.getWithRetry(ctx, "/v5/market/instruments-info", params, &res); err != nil {
			return nil, err
		}
		for _, inst := range res.List {
			if inst.Status == "Trading" {
				symbols = append(symbols, inst.Symbol)
			}
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			break
		}
		cursor = res.NextPageCursor
	}
	sort.Strings(symbols)
	return symbols, nil
}

type bybitTickersResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
		PrevPrice24h string `json:"prevPrice24h"`
	} `json:"list"`
}

// Ticker returns the 24h snapshot for symbol.
func (b *Bybit) Ticker(ctx context.Context, symbol string) (models.Ticker, error) {
	symbol = models.NormalizeSymbol(symbol)
	var res bybitTickersResult
	params := map[string]string{"category": b.opts.Category, "symbol": symbol}
	if err := b.getWithRetry(ctx, "/v5/market/tickers", params, &res); err != nil {
		return models.Ticker{}, err
	}
	if len(res.List) == 0 {
		return models.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, errors.ErrSymbolNotFound)
	}
	t := res.List[0]
	return models.Ticker{
		Symbol:    t.Symbol,
		LastPrice: parseDecimal(t.LastPrice),
		High24h:   parseDecimal(t.HighPrice24h),
		Low24h:    parseDecimal(t.LowPrice24h),
		Open24h:   parseDecimal(t.PrevPrice24h),
		Timestamp: time.Now().UTC(),
	}, nil
}

// parseDecimal returns 0 for empty or malformed input.
func parseDecimal(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
