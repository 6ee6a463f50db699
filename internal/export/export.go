// Package export writes candle history to files.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

// Row is the file layout of one candle.
type Row struct {
	Time      string  `csv:"time" json:"time" parquet:"time"`
	Timestamp int64   `csv:"timestamp" json:"timestamp" parquet:"timestamp"`
	Symbol    string  `csv:"symbol" json:"symbol" parquet:"symbol,dict"`
	Open      float64 `csv:"open" json:"open" parquet:"open"`
	High      float64 `csv:"high" json:"high" parquet:"high"`
	Low       float64 `csv:"low" json:"low" parquet:"low"`
	Close     float64 `csv:"close" json:"close" parquet:"close"`
	Volume    float64 `csv:"volume" json:"volume" parquet:"volume"`
	Turnover  float64 `csv:"turnover" json:"turnover" parquet:"turnover"`
}

// Rows converts candles to file rows.
func Rows(symbol string, candles []models.Candle) []Row {
	symbol = models.NormalizeSymbol(symbol)
	rows := make([]Row, len(candles))
	for i, c := range candles {
		ts := c.Timestamp.UTC()
		rows[i] = Row{
			Time:      ts.Format(time.RFC3339),
			Timestamp: ts.UnixMilli(),
			Symbol:    symbol,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Turnover:  c.Turnover,
		}
	}
	return rows
}

// Saver writes candles for one symbol to path.
type Saver interface {
	Save(path, symbol string, candles []models.Candle) error
	Extension() string
}

// Formats lists the supported output formats.
var Formats = []string{"csv", "parquet", "json"}

// NewSaver returns the saver for format.
func NewSaver(format string) (Saver, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return CSVSaver{}, nil
	case "parquet":
		return ParquetSaver{}, nil
	case "json":
		return JSONSaver{}, nil
	}
	return nil, errors.NewValidationError("format", format, "must be one of "+strings.Join(Formats, ", "))
}

// FileName builds <symbol>_<interval>_<from>_<to>.<ext> with dates as YYYY-MM-DD.
func FileName(symbol string, interval models.Interval, from, to time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s",
		models.NormalizeSymbol(symbol), interval,
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"), ext)
}

// Write saves candles into dir under FileName and returns the full path.
func Write(s Saver, dir, symbol string, interval models.Interval, from, to time.Time, candles []models.Candle) (string, error) {
	if len(candles) == 0 {
		return "", fmt.Errorf("export %s: %w", symbol, errors.ErrDataNotFound)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(symbol, interval, from, to, s.Extension()))
	if err := s.Save(path, symbol, candles); err != nil {
		return "", fmt.Errorf("export %s: %w", path, err)
	}
	return path, nil
}

// CSVSaver writes a header row followed by one row per candle.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(path, symbol string, candles []models.Candle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	rows := Rows(symbol, candles)
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParquetSaver writes a single row group.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(path, symbol string, candles []models.Candle) error {
	return parquet.WriteFile(path, Rows(symbol, candles))
}

// JSONSaver writes an indented array.
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(path, symbol string, candles []models.Candle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Rows(symbol, candles)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
