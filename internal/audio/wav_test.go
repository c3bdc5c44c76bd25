package audio

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadWAVInfoReportsNativeRate(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, sineForTest(220, 44100, 44100*2, 0.5), 44100, 1)

	info, err := ReadWAVInfo(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 44100, info.SampleRate)
	require.Equal(t, 1, info.Channels)
	require.Equal(t, 16, info.BitsPerSample)
	require.Equal(t, 2*time.Second, info.Duration)
}

func TestDecodeMonoDownmixesStereo(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, []int16{1000, 3000, -400, -200}, 8000, 2)

	mono, rate, err := DecodeMono(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 8000, rate)
	require.Equal(t, []int16{2000, -300}, mono)
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.Error(t, EncodeWAV(&buf, []int16{1}, 0, 1))
	require.ErrorIs(t, EncodeWAV(&buf, []int16{1, 2, 3}, 16000, 3), ErrUnsupportedWAV)
}

func TestResampleToWhisperRate(t *testing.T) {
	t.Parallel()

	in := sineForTest(440, 48000, 48000, 0.5)
	out, err := Resample(in, 48000, WhisperSampleRate)
	require.NoError(t, err)
	require.InDelta(t, WhisperSampleRate, len(out), 100)

	same, err := Resample(in, 48000, 48000)
	require.NoError(t, err)
	require.Len(t, same, len(in))
}

func TestFloat32Scaling(t *testing.T) {
	t.Parallel()

	out := Float32([]int16{0, -32768, 16384})
	require.Equal(t, []float32{0, -1, 0.5}, out)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatWAV, DetectFormat(encodeForTest(t, make([]int16, 160), 16000, 1)))
	require.Equal(t, "mp3", DetectFormat(append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)))
	require.Equal(t, "flac", DetectFormat(append([]byte("fLaC"), make([]byte, 64)...)))
	require.Equal(t, FormatUnknown, DetectFormat([]byte("just some text")))
	require.Equal(t, FormatUnknown, DetectFormat(nil))
}
