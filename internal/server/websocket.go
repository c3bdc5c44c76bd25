package server

import (
	"bytes"
	"net/http"
	"time"

	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the client to send its audio.
	readWait = 60 * time.Second

	pingPeriod   = 30 * time.Second
	drainPeriod  = 100 * time.Millisecond
	closeTimeout = time.Second
)

// handleWebSocket accepts one binary message with the audio and streams
// every lifecycle event of the resulting job as JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.opts.MaxUploadBytes > 0 {
		// One byte over the ceiling still reaches the job so it can report
		// PayloadTooLarge; anything bigger is cut off by the connection.
		conn.SetReadLimit(s.opts.MaxUploadBytes + 1)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	kind, payload, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("websocket closed before audio arrived", zap.Error(err))
		return
	}
	if kind != websocket.BinaryMessage {
		closeWith(conn, websocket.CloseUnsupportedData, "expected a binary audio message")
		return
	}

	sink := job.NewStreamingSink(s.logger)
	started := s.controller.Start(r.Context(), job.Request{
		Language: s.opts.Language,
		Source:   source.NewUpload(bytes.NewReader(payload), s.opts.MaxUploadBytes),
	}, sink)
	logger := s.logger.With(zap.String("job", started.ID))

	drain := time.NewTicker(drainPeriod)
	defer drain.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-drain.C:
		case <-sink.Done():
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("websocket ping failed; job continues in background", zap.Error(err))
				return
			}
			continue
		}

		for _, ev := range sink.Drain() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed; job continues in background", zap.Error(err))
				return
			}
			if ev.Terminal() {
				closeWith(conn, websocket.CloseNormalClosure, string(ev.Type))
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
}
