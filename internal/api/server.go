// Package api serves pivot tables, live pivots and candles over HTTP and
// pushes live snapshots over WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pivotscope/internal/analysis"
	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/resilience"
	"pivotscope/internal/store"
	"pivotscope/internal/stream"
)

// Config holds HTTP server settings.
type Config struct {
	Listen       string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PivotService computes tables and live pivots. *analysis.Analyzer satisfies it.
type PivotService interface {
	Analyze(ctx context.Context, req analysis.Request, now time.Time) (*analysis.Report, error)
	Live(ctx context.Context, symbol, timeframe string, now time.Time) (*analysis.LiveReport, error)
}

// SymbolLister lists tradable symbols. provider.Provider satisfies it.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Deps are the services the API is built on.
type Deps struct {
	Pivots  PivotService
	Symbols SymbolLister
	Candles analysis.CandleSource
	Pairs   store.PairStore
	Health  *resilience.HealthMonitor
	Hub     *stream.Hub
}

// Server represents the HTTP API server.
type Server struct {
	cfg        Config
	deps       Deps
	logger     zerolog.Logger
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	validate   *validator.Validate
	upgrader   websocket.Upgrader
	now        func() time.Time
}

// NewServer creates a server and sets up its routes.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str("component", "api").Logger(),
		validate: validator.New(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/pivots/{symbol}/{timeframe}", s.handlePivots).Methods(http.MethodGet)
	v1.HandleFunc("/live/{symbol}/{timeframe}", s.handleLive).Methods(http.MethodGet)
	v1.HandleFunc("/candles/{symbol}", s.handleCandles).Methods(http.MethodGet)
	v1.HandleFunc("/pairs", s.handleListPairs).Methods(http.MethodGet)
	v1.HandleFunc("/pairs", s.handleAddPair).Methods(http.MethodPost)
	v1.HandleFunc("/pairs/{symbol}", s.handleRemovePair).Methods(http.MethodDelete)
	v1.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.handler = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(s.router))
}

// Handler returns the full middleware stack.
func (s *Server) Handler() http.Handler { return s.handler }

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.logger.Info().Str("address", s.cfg.Listen).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// requestIDHeader carries the id given to each request.
const requestIDHeader = "X-Request-ID"

// loggingMiddleware tags each request with an id and a request-scoped logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		logger := s.logger.With().Str("request_id", id).Logger()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r.WithContext(logging.WithLogger(r.Context(), logger)))

		event := logger.Info()
		if wrapped.statusCode >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrInputValidation),
		errors.Is(err, errors.ErrInvalidTimeframe),
		errors.Is(err, errors.ErrInvalidWeekday):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrSymbolNotFound), errors.Is(err, errors.ErrDataNotFound):
		return http.StatusNotFound
	case errors.IsRateLimit(err):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrProviderUnavailable), errors.Is(err, errors.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker so WebSocket upgrades pass through.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// recoveryLogger adapts zerolog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Str("panic", fmt.Sprint(v...)).Msg("Panic recovered")
}
