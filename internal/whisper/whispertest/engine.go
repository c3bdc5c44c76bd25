// Package whispertest provides a scripted whisper.Engine for tests.
package whispertest

import (
	"context"
	"io"
	"sync"

	"github.com/fmueller/voxserve/internal/whisper"
)

// Engine answers every request with Text, or with the result of Fn when set.
// When Hold is non-nil each call blocks until Hold is closed or receives.
type Engine struct {
	Text string
	Err  error
	Fn   func(req whisper.TranscriptionRequest, payload []byte) (string, error)
	Hold chan struct{}
	// Entered receives one value per call once the call has started.
	Entered chan struct{}

	mu            sync.Mutex
	calls         int
	active        int
	maxConcurrent int
	closed        int
	requests      []whisper.TranscriptionRequest
}

func (e *Engine) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (string, error) {
	e.mu.Lock()
	e.calls++
	e.active++
	if e.active > e.maxConcurrent {
		e.maxConcurrent = e.active
	}
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.Entered != nil {
		e.Entered <- struct{}{}
	}
	if e.Hold != nil {
		<-e.Hold
	}

	if e.Fn != nil {
		payload, err := readAll(req)
		if err != nil {
			return "", err
		}
		return e.Fn(req, payload)
	}
	return e.Text, e.Err
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// MaxConcurrent is the highest number of calls observed in flight at once.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConcurrent
}

func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) Requests() []whisper.TranscriptionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]whisper.TranscriptionRequest(nil), e.requests...)
}

func readAll(req whisper.TranscriptionRequest) ([]byte, error) {
	if req.Open == nil {
		return nil, nil
	}
	r, err := req.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
