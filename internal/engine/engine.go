// Package engine wraps a whisper.Engine in a process-wide handle: the model
// is loaded at most once and calls into it are serialized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fmueller/voxserve/internal/store"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
)

var (
	ErrEngineNotReady      = errors.New("engine not ready")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

type Result struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcriber turns a committed artifact into text. Implementations must not
// modify the artifact.
type Transcriber interface {
	Transcribe(ctx context.Context, art store.Artifact, language string) (Result, error)
}

type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

type Loader func() (whisper.Engine, error)

type Handle struct {
	loader Loader
	logger *zap.Logger

	once    sync.Once
	warming atomic.Bool
	engine  whisper.Engine
	loadErr error
	state   atomic.Value

	gate   sync.Mutex
	calls  atomic.Int64
	closed bool
}

func NewHandle(loader Loader, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handle{loader: loader, logger: logger}
	h.state.Store(StateLoading)
	return h
}

// Ready loads the engine on first use and reports the cached outcome on
// every later call. A failed load is never retried.
func (h *Handle) Ready() error {
	h.once.Do(h.load)
	if h.loadErr != nil {
		return fmt.Errorf("%w: %w", ErrEngineNotReady, h.loadErr)
	}
	return nil
}

// Warm starts loading in the background. From then on Transcribe fails fast
// with ErrEngineNotReady until the load finishes instead of waiting for it.
func (h *Handle) Warm() {
	h.warming.Store(true)
	go func() {
		if err := h.Ready(); err != nil {
			h.logger.Warn("engine failed to load; jobs will fail until restart", zap.Error(err))
		}
	}()
}

func (h *Handle) State() State {
	return h.state.Load().(State)
}

func (h *Handle) load() {
	if h.loader == nil {
		h.loadErr = errors.New("no engine configured")
		h.state.Store(StateFailed)
		return
	}

	h.logger.Info("loading transcription engine")
	engine, err := h.loader()
	if err == nil && engine == nil {
		err = errors.New("loader returned no engine")
	}
	if err != nil {
		h.loadErr = err
		h.state.Store(StateFailed)
		h.logger.Error("transcription engine unavailable", zap.Error(err))
		return
	}

	h.engine = engine
	h.state.Store(StateReady)
	h.logger.Info("transcription engine ready")
}

func (h *Handle) Transcribe(ctx context.Context, art store.Artifact, language string) (Result, error) {
	if h.warming.Load() && h.State() == StateLoading {
		return Result{}, fmt.Errorf("%w: model still loading", ErrEngineNotReady)
	}
	if err := h.Ready(); err != nil {
		return Result{}, err
	}

	h.gate.Lock()
	defer h.gate.Unlock()

	if h.closed {
		return Result{}, fmt.Errorf("%w: engine closed", ErrEngineNotReady)
	}
	h.calls.Add(1)

	h.logger.Debug("transcribing artifact",
		zap.String("job", art.JobID),
		zap.String("format", art.Format),
		zap.Int64("bytes", art.Size),
		zap.String("language", language))

	text, err := h.engine.Transcribe(ctx, whisper.TranscriptionRequest{
		AudioPath: art.Path,
		Format:    art.Format,
		Language:  language,
		Open:      art.Open,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	return Result{Text: text, Language: language}, nil
}

// Calls counts the requests that reached the engine.
func (h *Handle) Calls() int64 {
	return h.calls.Load()
}

// Close waits for a running transcription and releases the engine. Later
// calls fail with ErrEngineNotReady.
func (h *Handle) Close() error {
	h.gate.Lock()
	defer h.gate.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.once.Do(func() {
		h.loadErr = errors.New("engine closed before loading")
		h.state.Store(StateFailed)
	})
	if h.engine == nil {
		return nil
	}
	return h.engine.Close()
}
