package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/models"
)

const (
	binanceName       = "binance"
	binanceKlineLimit = 1500

	// binanceRateLimitCode is returned when the request weight is exceeded.
	binanceRateLimitCode = -1003
)

// Binance reads USDT-M futures market data through go-binance.
type Binance struct {
	client *futures.Client
	logger zerolog.Logger
}

// NewBinance creates a Binance futures provider. Only public endpoints are
// used, so no API key is needed.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	opts = opts.withDefaults()
	client := futures.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	client.HTTPClient = &http.Client{Timeout: opts.Timeout}
	return &Binance{
		client: client,
		logger: logger.With().Str("provider", binanceName).Logger(),
	}
}

func (b *Binance) Name() string { return binanceName }

func (b *Binance) wrap(endpoint string, start time.Time, err error) error {
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			code := strconv.FormatInt(apiErr.Code, 10)
			var cause error
			switch {
			case apiErr.Code == binanceRateLimitCode:
				cause = errors.ErrRateLimited
			case apiErr.Code == -1121:
				cause = errors.ErrSymbolNotFound
			}
			err = errors.NewProviderError(binanceName, code, apiErr.Message, cause)
		} else {
			err = fmt.Errorf("binance %s: %w: %v", endpoint, errors.ErrProviderUnavailable, err)
		}
	}
	logging.LogProviderCall(b.logger, binanceName, endpoint, time.Since(start), err)
	return err
}

// Candles pages forward from From until To.
func (b *Binance) Candles(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	step := req.Interval.Duration()
	if step == 0 {
		return nil, errors.NewValidationError("interval", req.Interval, "unknown interval")
	}
	symbol := models.NormalizeSymbol(req.Symbol)

	var candles []models.Candle
	from := req.From
	for from.Before(req.To) {
		start := time.Now()
		klines, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(string(req.Interval)).
			StartTime(from.UnixMilli()).
			EndTime(req.To.UnixMilli() - 1).
			Limit(binanceKlineLimit).
			Do(ctx)
		if err := b.wrap("klines", start, err); err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			c, err := parseBinanceKline(symbol, k)
			if err != nil {
				b.logger.Warn().Err(err).Str("symbol", symbol).Msg("Skipping malformed candle")
				continue
			}
			candles = append(candles, c)
		}

		last := time.UnixMilli(klines[len(klines)-1].OpenTime).UTC()
		if len(klines) < binanceKlineLimit {
			break
		}
		from = last.Add(step)
	}
	return normalize(candles), nil
}

func parseBinanceKline(symbol string, k *futures.Kline) (models.Candle, error) {
	ts := time.UnixMilli(k.OpenTime).UTC()
	vals := make([]float64, 6)
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, errors.NewCandleError(symbol, ts, fmt.Sprintf("bad number %q", s))
		}
		vals[i] = v
	}
	c := models.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Turnover:  vals[5],
	}
	return c, c.Validate(symbol)
}

// Symbols lists perpetual contracts in TRADING status.
func (b *Binance) Symbols(ctx context.Context) ([]string, error) {
	start := time.Now()
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err := b.wrap("exchangeInfo", start, err); err != nil {
		return nil, err
	}
	var symbols []string
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Ticker returns the 24h snapshot for symbol.
func (b *Binance) Ticker(ctx context.Context, symbol string) (models.Ticker, error) {
	symbol = models.NormalizeSymbol(symbol)
	start := time.Now()
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err := b.wrap("ticker/24hr", start, err); err != nil {
		return models.Ticker{}, err
	}
	if len(stats) == 0 {
		return models.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, errors.ErrSymbolNotFound)
	}
	s := stats[0]
	return models.Ticker{
		Symbol:    s.Symbol,
		LastPrice: parseDecimal(s.LastPrice),
		High24h:   parseDecimal(s.HighPrice),
		Low24h:    parseDecimal(s.LowPrice),
		Open24h:   parseDecimal(s.OpenPrice),
		Timestamp: time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}
