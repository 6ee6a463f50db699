package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func sampleCandles() []models.Candle {
	var out []models.Candle
	for i := 0; i < 4; i++ {
		p := 100 + float64(i)
		out = append(out, models.Candle{
			Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      p, High: p + 1, Low: p - 1, Close: p, Volume: 10, Turnover: 1000,
		})
	}
	return out
}

func TestFileName(t *testing.T) {
	got := FileName("btcusdt", models.Interval15m, t0, t0.AddDate(0, 0, 30), "csv")
	if got != "BTCUSDT_15m_2024-02-01_2024-03-02.csv" {
		t.Errorf("FileName = %q", got)
	}
}

func TestNewSaver(t *testing.T) {
	for _, format := range Formats {
		s, err := NewSaver(strings.ToUpper(format))
		if err != nil || s.Extension() != format {
			t.Errorf("NewSaver(%s) = %v, %v", format, s, err)
		}
	}
	if _, err := NewSaver("xlsx"); !errors.Is(err, errors.ErrInputValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestWrite_CSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := Write(CSVSaver{}, dir, "btcusdt", models.Interval15m, t0, t0.Add(time.Hour), sampleCandles())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "time,timestamp,symbol,open") {
		t.Fatalf("unexpected csv:\n%s", data)
	}
	if !strings.HasPrefix(lines[1], "2024-02-01T00:00:00Z,1706745600000,BTCUSDT,100") {
		t.Errorf("unexpected first row %q", lines[1])
	}

	f, _ := os.Open(path)
	defer f.Close()
	var rows []Row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatal(err)
	}
	if rows[3].Close != 103 {
		t.Errorf("unexpected last row %+v", rows[3])
	}
}

func TestWrite_Parquet(t *testing.T) {
	path, err := Write(ParquetSaver{}, t.TempDir(), "ETHUSDT", models.Interval15m, t0, t0.Add(time.Hour), sampleCandles())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || rows[0].Symbol != "ETHUSDT" || rows[2].Timestamp != t0.Add(30*time.Minute).UnixMilli() {
		t.Errorf("unexpected parquet rows %+v", rows)
	}
}

func TestWrite_JSONAndEmpty(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(JSONSaver{}, dir, "SOLUSDT", models.Interval1h, t0, t0, sampleCandles()[:1])
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"symbol": "SOLUSDT"`) {
		t.Errorf("unexpected json %s", data)
	}

	if _, err := Write(JSONSaver{}, dir, "SOLUSDT", models.Interval1h, t0, t0, nil); !errors.Is(err, errors.ErrDataNotFound) {
		t.Errorf("empty export should fail with ErrDataNotFound, got %v", err)
	}
}
