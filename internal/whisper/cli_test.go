package whisper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCLIEngineArgs(t *testing.T) {
	t.Parallel()

	e := &CLIEngine{ModelPath: "/m/ggml-small.bin", Device: DeviceCPU, Threads: 4}
	require.Equal(t,
		[]string{"-m", "/m/ggml-small.bin", "-f", "/spool/job-1.wav", "-nt", "-np", "-l", "pt", "-ng", "-t", "4"},
		e.Args(TranscriptionRequest{AudioPath: "/spool/job-1.wav", Language: "pt"}))

	e = &CLIEngine{ModelPath: "m.bin", Device: DeviceGPU}
	require.Equal(t,
		[]string{"-m", "m.bin", "-f", "a.wav", "-nt", "-np"},
		e.Args(TranscriptionRequest{AudioPath: "a.wav", Language: "auto"}))
}

func TestCLIEngineArgsReadStdinForTranscodedFormats(t *testing.T) {
	t.Parallel()

	e := &CLIEngine{ModelPath: "m.bin"}
	require.Equal(t,
		[]string{"-m", "m.bin", "-f", "-", "-nt", "-np"},
		e.Args(TranscriptionRequest{AudioPath: "/spool/job-1.m4a", Format: "m4a"}))
	require.Equal(t,
		[]string{"-m", "m.bin", "-f", "/spool/job-1.mp3", "-nt", "-np"},
		e.Args(TranscriptionRequest{AudioPath: "/spool/job-1.mp3", Format: "mp3"}))
}

func TestNeedsTranscode(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"", "wav", "mp3", "flac", "ogg", "WAV"} {
		require.False(t, NeedsTranscode(format), format)
	}
	for _, format := range []string{"m4a", "mp4", "webm", "aac", "unknown"} {
		require.True(t, NeedsTranscode(format), format)
	}
}

func TestCLIEngineTranscodesM4AThroughFFmpeg(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := "#!/bin/sh\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = -i ]; then input=$2; fi\n" +
		"  shift\n" +
		"done\n" +
		"printf 'wav-from %s\\n' \"$input\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(ffmpeg), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	exe := filepath.Join(dir, "whisper-cli")
	whisperCLI := "#!/bin/sh\n" +
		"prev=\n" +
		"for arg in \"$@\"; do\n" +
		"  if [ \"$prev\" = -f ]; then echo \"input $arg\"; fi\n" +
		"  prev=$arg\n" +
		"done\n" +
		"cat\n"
	require.NoError(t, os.WriteFile(exe, []byte(whisperCLI), 0o755))

	e := &CLIEngine{Executable: exe, ModelPath: "m.bin"}
	text, err := e.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "/spool/job-1.m4a", Format: "m4a"})
	require.NoError(t, err)
	require.Equal(t, "input - wav-from /spool/job-1.m4a", text)

	text, err = e.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "/spool/job-2.wav", Format: "wav"})
	require.NoError(t, err)
	require.Equal(t, "input /spool/job-2.wav", text)
}

func TestCLIEngineReportsTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := "#!/bin/sh\necho 'invalid data found when processing input' >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(ffmpeg), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	exe := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\ncat >/dev/null\n"), 0o755))

	e := &CLIEngine{Executable: exe, ModelPath: "m.bin"}
	_, err := e.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a.webm", Format: "webm"})
	require.ErrorContains(t, err, "invalid data found")
}

func TestCLIEngineReadsTranscriptFromStdout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := filepath.Join(dir, "whisper-cli")
	script := "#!/bin/sh\nprintf '\\n Olá mundo.\\n  tudo bem?\\n'\n"
	require.NoError(t, os.WriteFile(exe, []byte(script), 0o755))

	e := &CLIEngine{Executable: exe, ModelPath: "m.bin"}
	text, err := e.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a.wav", Language: "pt"})
	require.NoError(t, err)
	require.Equal(t, "Olá mundo. tudo bem?", text)
}

func TestCLIEngineReportsStderr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\necho 'failed to read audio' >&2\nexit 3\n"), 0o755))

	e := &CLIEngine{Executable: exe, ModelPath: "m.bin"}
	_, err := e.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a.wav"})
	require.ErrorContains(t, err, "failed to read audio")
}

func TestCLIEngineNeedsPath(t *testing.T) {
	t.Parallel()

	_, err := (&CLIEngine{Executable: "/bin/true", ModelPath: "m.bin"}).Transcribe(context.Background(), TranscriptionRequest{})
	require.Error(t, err)
}

func TestNewCLIEngineHonoursPathOverride(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "custom-whisper")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	model := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(model, []byte("x"), 0o644))

	t.Setenv(PathEnv, exe)
	e, err := NewCLIEngine(CLIOptions{ModelPath: model})
	require.NoError(t, err)
	require.Equal(t, exe, e.Executable)

	_, err = NewCLIEngine(CLIOptions{ModelPath: filepath.Join(dir, "missing.bin")})
	require.Error(t, err)
}

func TestEnginePathCandidates(t *testing.T) {
	t.Parallel()

	candidates := EnginePathCandidates("/opt/voxserve/bin/voxserve")
	require.Equal(t, filepath.Join("/opt/voxserve/libexec/whisper", engineBinaryName()), candidates[0])
	require.Len(t, candidates, 3)
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
}

func TestIsIllegalInstructionError(t *testing.T) {
	t.Parallel()

	require.True(t, isIllegalInstructionError("signal: illegal instruction (core dumped)"))
	require.False(t, isIllegalInstructionError(""))
}
