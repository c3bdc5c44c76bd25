package source

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/store"
)

type UploadSource struct {
	r     io.Reader
	limit int64
}

// NewUpload reads r in full when produced. A limit of zero or less disables
// the size ceiling.
func NewUpload(r io.Reader, limit int64) *UploadSource {
	return &UploadSource{r: r, limit: limit}
}

func (u *UploadSource) Kind() Kind {
	return KindUpload
}

func (u *UploadSource) Produce(_ context.Context, w io.Writer, _ func(string)) (store.Metadata, error) {
	reader := u.r
	if u.limit > 0 {
		reader = io.LimitReader(u.r, u.limit+1)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, reader)
	if err != nil {
		return store.Metadata{}, fmt.Errorf("%w: read upload after %d bytes: %w", ErrCaptureInterrupted, n, err)
	}
	if n == 0 {
		return store.Metadata{}, ErrEmptyPayload
	}
	if u.limit > 0 && n > u.limit {
		return store.Metadata{}, fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, u.limit)
	}

	meta := describe(buf.Bytes())
	if _, err := w.Write(buf.Bytes()); err != nil {
		return store.Metadata{}, fmt.Errorf("%w: %w", store.ErrWriteFailed, err)
	}
	return meta, nil
}

func describe(data []byte) store.Metadata {
	meta := store.Metadata{Format: audio.DetectFormat(data)}
	if meta.Format != audio.FormatWAV {
		return meta
	}

	info, err := audio.ReadWAVInfo(bytes.NewReader(data))
	if err != nil {
		return meta
	}
	meta.SampleRate = info.SampleRate
	meta.Duration = info.Duration
	return meta
}
