// Package source produces the audio payload of a job, either from an upload
// or from a microphone capture.
package source

import (
	"context"
	"errors"
	"io"

	"github.com/fmueller/voxserve/internal/store"
)

type Kind string

const (
	KindUpload     Kind = "upload"
	KindMicrophone Kind = "microphone"
)

var (
	ErrEmptyPayload       = errors.New("empty payload")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrCaptureInterrupted = errors.New("capture interrupted")
)

// Source writes a complete audio payload into w. report may be called with
// human-readable progress lines while Produce runs.
type Source interface {
	Kind() Kind
	Produce(ctx context.Context, w io.Writer, report func(string)) (store.Metadata, error)
}

func noReport(string) {}
