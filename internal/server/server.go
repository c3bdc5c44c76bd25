// Package server exposes the transcription pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/voxserve/internal/engine"
	"github.com/fmueller/voxserve/internal/job"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	audioField    = "audio_data"
	jobIDHeader   = "X-Job-ID"
	shutdownGrace = 30 * time.Second
	// Multipart framing and form fields around the audio part.
	multipartSlack = 1 << 20
)

type EngineStatus interface {
	State() engine.State
}

type Options struct {
	Addr           string
	Language       string
	MaxUploadBytes int64
	Version        string
	Logger         *zap.Logger
}

type Server struct {
	controller *job.Controller
	status     EngineStatus
	opts       Options
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	router     *mux.Router
}

func New(controller *job.Controller, status EngineStatus, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		controller: controller,
		status:     status,
		opts:       opts,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/transcribe", s.handleTranscribe).Methods(http.MethodPost)
	router.HandleFunc("/ws/transcribe", s.handleWebSocket).Methods(http.MethodGet)
	s.router = router

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully and
// waits for background jobs so their artifacts are released.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("transcription server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.controller.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down transcription server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.controller.Wait()
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "transcription server is up"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := engine.StateFailed
	if s.status != nil {
		state = s.status.State()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"engine":  string(state),
		"version": s.opts.Version,
	})
}

type errorResponse struct {
	Error string   `json:"error"`
	Kind  job.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind job.Kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// statusFor maps a failure kind onto the HTTP status of the response.
func statusFor(kind job.Kind) int {
	switch kind {
	case job.KindEmptyPayload:
		return http.StatusBadRequest
	case job.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case job.KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
