package audio

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSilentWAVDetectsSilence(t *testing.T) {
	t.Parallel()

	silent, metrics, err := IsSilentWAV(bytes.NewReader(encodeForTest(t, make([]int16, 16000), 16000, 1)), -65)
	require.NoError(t, err)
	require.True(t, silent)
	require.True(t, math.IsInf(metrics.RMSdBFS, -1))
	require.True(t, math.IsInf(metrics.PeakdBFS, -1))
	require.EqualValues(t, 16000, metrics.Samples)
}

func TestIsSilentWAVDetectsSpeechLikeSignal(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, sineForTest(440, 16000, 16000, 0.25), 16000, 1)

	silent, metrics, err := IsSilentWAV(bytes.NewReader(data), -65)
	require.NoError(t, err)
	require.False(t, silent)
	require.Greater(t, metrics.PeakdBFS, -20.0)
	require.Greater(t, metrics.RMSdBFS, -20.0)
}

func TestIsSilentWAVInvalidStream(t *testing.T) {
	t.Parallel()

	_, _, err := IsSilentWAV(bytes.NewReader([]byte("hello")), -65)
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func sineForTest(freq float64, sampleRate, n int, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

func encodeForTest(t *testing.T, samples []int16, sampleRate, channels int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, EncodeWAV(&buf, samples, sampleRate, channels))
	return buf.Bytes()
}
