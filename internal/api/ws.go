package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pivotscope/internal/logging"
	"pivotscope/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// handleWebSocket streams live snapshots for one (symbol, timeframe). The
// first snapshot is sent on connect; later ones arrive from the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		http.Error(w, "live stream unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	key, err := stream.NewKey(q.Get("symbol"), q.Get("timeframe"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if key.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	logger := logging.WithTimeframe(logging.WithSymbol(logging.FromContext(r.Context()), key.Symbol), key.Timeframe)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id := w.Header().Get(requestIDHeader)
	if id == "" {
		id = "ws-" + uuid.NewString()
	}
	snapshots := s.deps.Hub.Subscribe(key, id)
	logger.Debug().Msg("WebSocket client connected")

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	if report, err := s.deps.Pivots.Live(r.Context(), key.Symbol, key.Timeframe, s.now()); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(stream.Snapshot{LiveReport: *report, Changed: true}); err != nil {
			logger.Debug().Err(err).Msg("Initial write failed")
		}
	} else {
		logger.Warn().Err(err).Msg("Initial live evaluation failed")
	}

	s.writePump(conn, snapshots, closed)
	s.deps.Hub.Unsubscribe(key, snapshots)
	conn.Close()
	logger.Debug().Msg("WebSocket client disconnected")
}

func (s *Server) writePump(conn *websocket.Conn, snapshots <-chan stream.Snapshot, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and signals when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("WebSocket closed")
			}
			return
		}
	}
}
