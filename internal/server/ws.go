package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWS streams hub updates to one WebSocket peer. ?symbols=A,B limits
// the feed to those instruments.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil || !s.hub.IsStarted() {
		writeError(w, "live feed not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(symbolsParam(r)...)
	metrics.WebSocketClients.Inc()
	s.logger.Info().Str("subscriber", sub.ID).Msg("WebSocket client connected")

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, sub, closed)

	s.hub.Unsubscribe(sub)
	metrics.WebSocketClients.Dec()
	s.logger.Info().Str("subscriber", sub.ID).Msg("WebSocket client disconnected")
}

// writePump forwards updates until the peer goes away or the hub closes
// the subscription.
func (s *Server) writePump(conn *websocket.Conn, sub *stream.Subscriber, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case u, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// readPump discards inbound frames and signals when the peer disconnects.
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
			return
		}
	}
}
