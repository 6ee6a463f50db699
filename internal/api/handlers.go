package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pivotscope/internal/analysis"
	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/errors"
	"pivotscope/internal/models"
	"pivotscope/internal/provider"
	"pivotscope/internal/resilience"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(resilience.HealthStatusHealthy)})
		return
	}
	health := s.deps.Health.Check(r.Context())
	status := http.StatusOK
	if health.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{"health": health}
	if s.deps.Hub != nil {
		body["stream"] = s.deps.Hub.Metrics()
	}
	writeJSON(w, status, body)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.deps.Symbols.Symbols(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if filter := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("filter"))); filter != "" {
		filtered := make([]string, 0, len(symbols))
		for _, sym := range symbols {
			if strings.Contains(sym, filter) {
				filtered = append(filtered, sym)
			}
		}
		symbols = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

func (s *Server) handlePivots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()
	req := analysis.Request{Symbol: vars["symbol"], Timeframe: vars["timeframe"]}

	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, errors.NewValidationError("days", v, "must be an integer"))
			return
		}
		req.Days = days
	}
	if v := q.Get("weekdays"); v != "" {
		set, err := pivots.ParseWeekdays(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.Weekdays = set
	}
	req.NoCache, _ = strconv.ParseBool(q.Get("nocache"))

	report, err := s.deps.Pivots.Analyze(r.Context(), req, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	report, err := s.deps.Pivots.Live(r.Context(), vars["symbol"], vars["timeframe"], s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CandlesResponse is the body of the candles endpoint.
type CandlesResponse struct {
	Symbol   string          `json:"symbol"`
	Interval models.Interval `json:"interval"`
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Count    int             `json:"count"`
	Candles  []models.Candle `json:"candles"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := models.NormalizeSymbol(mux.Vars(r)["symbol"])

	interval := models.Interval15m
	if v := q.Get("interval"); v != "" {
		iv, err := models.ParseInterval(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		interval = iv
	}
	days := 1
	if v := q.Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > analysis.MaxDays {
			s.writeError(w, errors.NewValidationError("days", v, "must be between 1 and 3650"))
			return
		}
		days = d
	}

	now := s.now().UTC()
	from := now.AddDate(0, 0, -days)
	candles, err := s.deps.Candles.Candles(r.Context(), provider.HistoricalRequest{
		Symbol: symbol, Interval: interval, From: from, To: now.Add(time.Millisecond),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if candles == nil {
		candles = []models.Candle{}
	}
	writeJSON(w, http.StatusOK, CandlesResponse{
		Symbol: symbol, Interval: interval, From: from, To: now,
		Count: len(candles), Candles: candles,
	})
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.deps.Pairs.ListPopularPairs(r.Context(), false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pairs == nil {
		pairs = []models.PopularPair{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": pairs, "count": len(pairs)})
}

// PairRequest is the body of POST /pairs.
type PairRequest struct {
	Symbol     string `json:"symbol" validate:"required,min=3,max=32,alphanum"`
	AutoUpdate *bool  `json:"auto_update"`
	Priority   int    `json:"priority" validate:"gte=0,lte=10000"`
}

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewValidationError("body", nil, "invalid JSON: "+err.Error()))
		return
	}
	req.Symbol = models.NormalizeSymbol(req.Symbol)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, errors.NewValidationError("pair", req.Symbol, err.Error()))
		return
	}

	pair := models.PopularPair{Symbol: req.Symbol, AutoUpdate: true, Priority: req.Priority}
	if req.AutoUpdate != nil {
		pair.AutoUpdate = *req.AutoUpdate
	}
	if pair.Priority == 0 {
		pair.Priority = 100
	}
	if err := s.deps.Pairs.UpsertPopularPair(r.Context(), pair); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleRemovePair(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pairs.RemovePopularPair(r.Context(), mux.Vars(r)["symbol"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
