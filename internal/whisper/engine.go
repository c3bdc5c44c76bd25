package whisper

import (
	"context"

	"github.com/fmueller/voxserve/internal/store"
)

type TranscriptionRequest struct {
	// AudioPath is empty when the artifact is not on disk.
	AudioPath string
	Format    string
	Language  string
	Open      func() (store.Reader, error)
}

type Engine interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
	Close() error
}

// Inference devices accepted by the engines.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"
)

func languageArg(lang string) string {
	if lang == "" || lang == "auto" {
		return ""
	}
	return lang
}
