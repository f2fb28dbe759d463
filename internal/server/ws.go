package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// The client only ever sends control frames.
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local tool; the API is bound to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessageType tags a message on the progress stream.
type MessageType string

const (
	MsgStep   MessageType = "step"
	MsgResult MessageType = "result"
	MsgError  MessageType = "error"
)

// StreamMessage is one frame of the progress stream: any number of steps,
// then exactly one result or error.
type StreamMessage struct {
	Type      MessageType             `json:"type"`
	Step      *schemas.AuditStep      `json:"step,omitempty"`
	Result    *schemas.AnalysisResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	quick, _ := strconv.ParseBool(r.URL.Query().Get("quick"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	log := s.logger.With(zap.String("target", target), zap.Bool("quick", quick))

	// A closed client cancels the analysis.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan StreamMessage, sendBufferSize)
	writerDone := make(chan struct{})
	go s.writePump(conn, send, writerDone, log)
	go readPump(conn, cancel)

	listener := func(step schemas.AuditStep) {
		select {
		case send <- StreamMessage{Type: MsgStep, Step: &step, Timestamp: time.Now()}:
		case <-ctx.Done():
		}
	}

	res, err := s.analyze(ctx, target, quick, listener)
	final := StreamMessage{Type: MsgResult, Result: res, Timestamp: time.Now()}
	if err != nil {
		log.Warn("Streamed analysis failed", zap.Error(err))
		final = StreamMessage{Type: MsgError, Error: err.Error(), Timestamp: time.Now()}
	}
	select {
	case send <- final:
	case <-ctx.Done():
	}
	close(send)
	<-writerDone
}

// writePump drains send, then closes the connection with a normal closure.
func (s *Server) writePump(conn *websocket.Conn, send <-chan StreamMessage, done chan<- struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis finished"))
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				log.Error("Failed to encode stream message", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				// Keep draining so the producer never blocks on a dead client.
				for range send {
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				for range send {
				}
				return
			}
		}
	}
}

// readPump processes control frames and cancels the run once the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
