package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youpy/go-wav"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const pcmFormat = 1

// RandomReader is the access pattern go-wav needs to walk RIFF chunks.
type RandomReader interface {
	io.Reader
	io.ReaderAt
}

type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

// EncodeWAV writes interleaved 16-bit PCM samples (one or two channels).
func EncodeWAV(w io.Writer, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, channels)
	}

	frames := len(samples) / channels
	out := make([]wav.Sample, frames)
	for i := range out {
		for ch := 0; ch < channels; ch++ {
			out[i].Values[ch] = int(samples[i*channels+ch])
		}
	}

	writer := wav.NewWriter(w, uint32(frames), uint16(channels), uint32(sampleRate), 16)
	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

func ReadWAVInfo(r RandomReader) (WAVInfo, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	duration, err := reader.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	return WAVInfo{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
		Duration:      duration,
	}, nil
}

// DecodeMono reads a PCM WAV stream and returns its samples downmixed to mono
// and scaled to 16 bits, together with the stream's sample rate.
func DecodeMono(r RandomReader) ([]int16, int, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if err := validatePCM(format); err != nil {
		return nil, 0, err
	}

	channels := int(format.NumChannels)
	shift := int(format.BitsPerSample) - 16

	var mono []int16
	for {
		samples, err := reader.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read wav samples: %w", err)
		}

		for _, sample := range samples {
			sum := 0
			for ch := 0; ch < channels; ch++ {
				sum += reader.IntValue(sample, uint(ch)) >> shift
			}
			mono = append(mono, int16(sum/channels))
		}
	}

	return mono, int(format.SampleRate), nil
}

func validatePCM(format *wav.WavFormat) error {
	if format.AudioFormat != pcmFormat {
		return fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, format.AudioFormat)
	}
	switch format.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, format.BitsPerSample)
	}
	if format.NumChannels != 1 && format.NumChannels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, format.NumChannels)
	}
	return nil
}
