//go:build whispercpp

// Package cpp runs whisper in-process through the whisper.cpp Go bindings.
// It needs cgo and libwhisper at build time.
package cpp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/whisper"
	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"
)

// Engine holds one loaded model. Contexts are created per request; callers
// serialize Transcribe.
type Engine struct {
	model   whispercpp.Model
	threads uint
	logger  *zap.Logger
}

type Options struct {
	ModelPath string
	Device    string
	Threads   int
	Logger    *zap.Logger
}

func Load(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Device == whisper.DeviceCPU {
		logger.Info("the in-process engine uses the backends libwhisper was built with; device=cpu is advisory")
	}

	logger.Info("loading whisper model", zap.String("path", opts.ModelPath))
	model, err := whispercpp.New(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", opts.ModelPath, err)
	}
	logger.Info("whisper model loaded", zap.Bool("multilingual", model.IsMultilingual()))

	threads := uint(0)
	if opts.Threads > 0 {
		threads = uint(opts.Threads)
	}
	return &Engine{model: model, threads: threads, logger: logger}, nil
}

func (e *Engine) Transcribe(ctx context.Context, req whisper.TranscriptionRequest) (string, error) {
	samples, err := e.decode(ctx, req)
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	e.logger.Debug("audio decoded", zap.Int("samples", len(samples)), zap.Float64("seconds", float64(len(samples))/audio.WhisperSampleRate))

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("set language %q: %w", lang, err)
		}
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		text.WriteString(segment.Text)
	}
	return strings.TrimSpace(text.String()), nil
}

func (e *Engine) Close() error {
	return e.model.Close()
}

// decode turns the artifact into 16 kHz mono float32. WAV is handled in
// process; other containers are piped through ffmpeg.
func (e *Engine) decode(ctx context.Context, req whisper.TranscriptionRequest) ([]float32, error) {
	if req.Open == nil {
		return nil, errors.New("artifact cannot be opened")
	}
	r, err := req.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if req.Format == audio.FormatWAV {
		mono, rate, err := audio.DecodeMono(r)
		if err == nil {
			resampled, err := audio.Resample(mono, rate, audio.WhisperSampleRate)
			if err != nil {
				return nil, err
			}
			return audio.Float32(resampled), nil
		}
		if !errors.Is(err, audio.ErrUnsupportedWAV) {
			return nil, err
		}
		e.logger.Debug("wav encoding not handled in process; using ffmpeg", zap.Error(err))
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	return decodeWithFFmpeg(ctx, r)
}

func decodeWithFFmpeg(ctx context.Context, r io.Reader) ([]float32, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required to decode non-WAV audio")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", strconv.Itoa(audio.WhisperSampleRate),
		"pipe:1")
	var stdout, stderr bytes.Buffer
	cmd.Stdin = r
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	pcm := make([]int16, stdout.Len()/2)
	if err := binary.Read(&stdout, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	return audio.Float32(pcm), nil
}
