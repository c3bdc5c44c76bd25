package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/youpy/go-wav"
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether a PCM WAV stream stays below thresholdDBFS. The
// peak may exceed the threshold by 6 dB to tolerate clicks.
func IsSilentWAV(r RandomReader, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := AnalyzeWAV(r)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 {
		return true, metrics, nil
	}

	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true, metrics, nil
	}

	peakGate := thresholdDBFS + 6
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= peakGate, metrics, nil
}

func AnalyzeWAV(r RandomReader) (SilenceMetrics, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if err := validatePCM(format); err != nil {
		return SilenceMetrics{}, err
	}

	fullScale := math.Pow(2, float64(format.BitsPerSample)-1)
	channels := uint(format.NumChannels)

	var (
		peak       float64
		sumSquares float64
		count      int64
	)
	for {
		samples, err := reader.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return SilenceMetrics{}, fmt.Errorf("read wav samples: %w", err)
		}

		for _, sample := range samples {
			for ch := uint(0); ch < channels; ch++ {
				value := float64(reader.IntValue(sample, ch)) / fullScale
				peak = math.Max(peak, math.Abs(value))
				sumSquares += value * value
				count++
			}
		}
	}

	if count == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}

	rms := math.Sqrt(sumSquares / float64(count))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  count,
	}, nil
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
