package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/fmueller/voxserve/internal/whisper/whispertest"
	"github.com/stretchr/testify/require"
)

// harness runs the command tree against a stub engine, a temp spool and a
// config file that points at a model file in a temp directory.
type harness struct {
	app    *appState
	engine *whispertest.Engine
	dir    string
	config string

	mu     sync.Mutex
	copies []string
}

func newHarness(t *testing.T, extraConfig string, opts ...Option) *harness {
	t.Helper()

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-test.bin")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	h := &harness{
		engine: &whispertest.Engine{Text: "olá mundo"},
		dir:    dir,
		config: filepath.Join(dir, "config.toml"),
	}

	cfg := "model = '" + model + "'\n" +
		"model_dir = '" + filepath.Join(dir, "models") + "'\n" +
		"spool_dir = '" + filepath.Join(dir, "spool") + "'\n" +
		"auto_download = false\n" + extraConfig
	require.NoError(t, os.WriteFile(h.config, []byte(cfg), 0o644))

	h.app = newAppState(opts...)
	h.app.engines["cli"] = func(EngineOptions) (whisper.Engine, error) {
		return h.engine, nil
	}
	h.app.copyFn = func(_ context.Context, text string) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.copies = append(h.copies, text)
		return nil
	}
	return h
}

func (h *harness) run(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCmd(h.app)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--config", h.config, "--no-progress"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (h *harness) copied() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.copies...)
}

func (h *harness) spoolEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.dir, "spool"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func writeWAVForTest(t *testing.T, path string, seconds int) {
	t.Helper()

	samples := make([]int16, 16000*seconds)
	for i := range samples {
		samples[i] = int16((i % 64) * 200)
	}
	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, samples, 16000, 1))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}
