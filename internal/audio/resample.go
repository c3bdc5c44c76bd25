package audio

import (
	"fmt"

	"github.com/zeozeozeo/gomplerate"
)

// WhisperSampleRate is the input rate whisper models are trained on.
const WhisperSampleRate = 16000

func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d Hz: %w", fromRate, toRate, err)
	}
	return resampler.ResampleInt16(samples), nil
}

// Float32 scales 16-bit samples into [-1, 1).
func Float32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
