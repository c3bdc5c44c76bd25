package job

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/engine"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/fmueller/voxserve/internal/store"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/fmueller/voxserve/internal/whisper/whispertest"
	"github.com/stretchr/testify/require"
)

func wavClipForTest(t *testing.T, seconds float64, rate int, amplitude float64) []byte {
	t.Helper()

	samples := make([]int16, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, samples, rate, 1))
	return buf.Bytes()
}

func handleForTest(stub *whispertest.Engine) *engine.Handle {
	return engine.NewHandle(func() (whisper.Engine, error) { return stub, nil }, nil)
}

// stubSource writes payload after sending reports. Err, Panic and Hook inject
// failures at the capture stage.
type stubSource struct {
	kind     source.Kind
	payload  []byte
	meta     store.Metadata
	reports  []string
	err      error
	panicMsg string
	hook     func(w io.Writer)
	ctxErr   error
}

func (s *stubSource) Kind() source.Kind {
	if s.kind == "" {
		return source.KindUpload
	}
	return s.kind
}

func (s *stubSource) Produce(ctx context.Context, w io.Writer, report func(string)) (store.Metadata, error) {
	s.ctxErr = ctx.Err()
	for _, line := range s.reports {
		report(line)
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return store.Metadata{}, s.err
	}
	if s.hook != nil {
		s.hook(w)
	}
	if _, err := w.Write(s.payload); err != nil {
		return store.Metadata{}, err
	}
	return s.meta, nil
}

type stubTranscriber struct {
	text     string
	err      error
	panicMsg string
	calls    atomic.Int32
}

func (s *stubTranscriber) Transcribe(context.Context, store.Artifact, string) (engine.Result, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return engine.Result{Text: s.text}, s.err
}

// liveAtTerminalSink records which slots were still live when the terminal
// event arrived.
type liveAtTerminalSink struct {
	*CollectingSink
	live func() []string

	mu             sync.Mutex
	liveAtTerminal []string
	checked        bool
}

func newLiveAtTerminalSink(live func() []string) *liveAtTerminalSink {
	return &liveAtTerminalSink{CollectingSink: NewCollectingSink(nil), live: live}
}

func (s *liveAtTerminalSink) Accept(ev Event) {
	if ev.Terminal() {
		s.mu.Lock()
		s.liveAtTerminal = s.live()
		s.checked = true
		s.mu.Unlock()
	}
	s.CollectingSink.Accept(ev)
}

func (s *liveAtTerminalSink) LiveAtTerminal() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveAtTerminal, s.checked
}

func requireSingleTerminalLast(t *testing.T, events []Event) Event {
	t.Helper()

	require.NotEmpty(t, events)
	for i, ev := range events[:len(events)-1] {
		require.False(t, ev.Terminal(), "event %d is terminal but not last", i)
	}
	last := events[len(events)-1]
	require.True(t, last.Terminal())
	for i, ev := range events {
		require.Equal(t, i+1, ev.Seq)
		require.Equal(t, last.JobID, ev.JobID)
	}
	return last
}

func messages(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EventProgress {
			out = append(out, ev.Message)
		}
	}
	return out
}

// panickingReleaseStore wraps a MemStore whose Release panics.
type panickingReleaseStore struct {
	*store.MemStore
}

func (s panickingReleaseStore) Release(*store.Slot) error {
	panic("release exploded")
}
