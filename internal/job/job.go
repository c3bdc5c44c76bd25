// Package job runs one transcription request from audio capture to a
// terminal lifecycle event.
package job

import (
	"errors"
	"time"

	"github.com/fmueller/voxserve/internal/engine"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/fmueller/voxserve/internal/store"
)

type State string

const (
	StateCreated      State = "created"
	StateCapturing    State = "capturing"
	StateStoring      State = "storing"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State]State{
	StateCreated:      StateCapturing,
	StateCapturing:    StateStoring,
	StateStoring:      StateTranscribing,
	StateTranscribing: StateCompleted,
}

func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return transitions[from] == to
}

type Job struct {
	ID        string
	Language  string
	Kind      source.Kind
	Duration  time.Duration
	State     State
	CreatedAt time.Time
}

// Kind classifies why a job failed.
type Kind string

const (
	KindStorageUnavailable  Kind = "StorageUnavailable"
	KindWriteFailed         Kind = "WriteFailed"
	KindEmptyPayload        Kind = "EmptyPayload"
	KindPayloadTooLarge     Kind = "PayloadTooLarge"
	KindDeviceUnavailable   Kind = "DeviceUnavailable"
	KindCaptureInterrupted  Kind = "CaptureInterrupted"
	KindEngineNotReady      Kind = "EngineNotReady"
	KindTranscriptionFailed Kind = "TranscriptionFailed"
)

var kindSentinels = []struct {
	err  error
	kind Kind
}{
	{engine.ErrEngineNotReady, KindEngineNotReady},
	{engine.ErrTranscriptionFailed, KindTranscriptionFailed},
	{source.ErrEmptyPayload, KindEmptyPayload},
	{source.ErrPayloadTooLarge, KindPayloadTooLarge},
	{source.ErrDeviceUnavailable, KindDeviceUnavailable},
	{store.ErrWriteFailed, KindWriteFailed},
	{source.ErrCaptureInterrupted, KindCaptureInterrupted},
	{store.ErrStorageUnavailable, KindStorageUnavailable},
}

// Classify maps err onto the failure taxonomy. Errors that match no known
// sentinel get fallback, the kind of the stage they came from.
func Classify(err error, fallback Kind) Kind {
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return fallback
}

func stageKind(state State) Kind {
	switch state {
	case StateCreated:
		return KindStorageUnavailable
	case StateCapturing:
		return KindCaptureInterrupted
	case StateStoring:
		return KindWriteFailed
	default:
		return KindTranscriptionFailed
	}
}
