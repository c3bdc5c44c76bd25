package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/capture"
	"github.com/fmueller/voxserve/internal/store"
	"go.uber.org/zap"
)

type MicrophoneSource struct {
	recorder capture.Recorder
	device   int
	duration time.Duration
	logger   *zap.Logger
}

func NewMicrophone(recorder capture.Recorder, device int, duration time.Duration, logger *zap.Logger) *MicrophoneSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MicrophoneSource{
		recorder: recorder,
		device:   device,
		duration: duration,
		logger:   logger,
	}
}

func (m *MicrophoneSource) Kind() Kind {
	return KindMicrophone
}

func (m *MicrophoneSource) Duration() time.Duration {
	return m.duration
}

// Produce captures exactly the configured duration at the device's native
// sample rate and writes it as 16-bit mono WAV.
func (m *MicrophoneSource) Produce(ctx context.Context, w io.Writer, report func(string)) (store.Metadata, error) {
	if report == nil {
		report = noReport
	}
	if m.duration <= 0 {
		return store.Metadata{}, fmt.Errorf("%w: non-positive duration %s", ErrCaptureInterrupted, m.duration)
	}

	dev, err := m.recorder.Lookup(ctx, m.device)
	if err != nil {
		return store.Metadata{}, fmt.Errorf("%w: device %d: %w", ErrDeviceUnavailable, m.device, err)
	}
	rate := int(math.Round(dev.SampleRate))
	if rate <= 0 {
		return store.Metadata{}, fmt.Errorf("%w: device %d reports no sample rate", ErrDeviceUnavailable, dev.ID)
	}

	report(fmt.Sprintf("using device %q (id %d) at %d Hz", dev.Name, dev.ID, rate))
	m.logger.Debug("capturing",
		zap.Int("device", dev.ID),
		zap.String("name", dev.Name),
		zap.Int("sample_rate", rate),
		zap.Duration("duration", m.duration))

	samples, err := m.recorder.Record(ctx, dev, m.duration)
	if err != nil {
		if errors.Is(err, capture.ErrDeviceOpen) || errors.Is(err, capture.ErrNoDevice) {
			return store.Metadata{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return store.Metadata{}, fmt.Errorf("%w: %w", ErrCaptureInterrupted, err)
	}

	want := capture.FrameCount(dev.SampleRate, m.duration)
	if len(samples) < want {
		return store.Metadata{}, fmt.Errorf("%w: captured %d of %d frames", ErrCaptureInterrupted, len(samples), want)
	}
	samples = samples[:want]

	report("recording finished, saving audio")
	if err := audio.EncodeWAV(w, samples, rate, 1); err != nil {
		return store.Metadata{}, fmt.Errorf("%w: %w", store.ErrWriteFailed, err)
	}

	return store.Metadata{
		SampleRate: rate,
		Duration:   m.duration,
		Format:     audio.FormatWAV,
	}, nil
}
