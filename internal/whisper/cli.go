package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// PathEnv overrides the whisper-cli executable lookup.
const PathEnv = "VOXSERVE_WHISPER_PATH"

// CLIEngine runs a whisper-cli binary once per request. The model is loaded
// by the subprocess, so the engine itself holds no inference state.
type CLIEngine struct {
	Executable string
	ModelPath  string
	Device     string
	Threads    int
	Logger     *zap.Logger
}

type CLIOptions struct {
	ModelPath string
	Device    string
	Threads   int
	Logger    *zap.Logger
}

func NewCLIEngine(opts CLIOptions) (*CLIEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	exe, err := resolveExecutable()
	if err != nil {
		return nil, err
	}

	return &CLIEngine{
		Executable: exe,
		ModelPath:  opts.ModelPath,
		Device:     opts.Device,
		Threads:    opts.Threads,
		Logger:     logger,
	}, nil
}

func resolveExecutable() (string, error) {
	if override := strings.TrimSpace(os.Getenv(PathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", PathEnv, err)
		}
		return override, nil
	}

	if self, err := os.Executable(); err == nil {
		for _, candidate := range EnginePathCandidates(self) {
			if ensureExecutable(candidate) == nil {
				return candidate, nil
			}
		}
	}

	path, err := exec.LookPath(engineBinaryName())
	if err != nil {
		return "", fmt.Errorf("whisper engine %s not found next to voxserve or on PATH; set %s", engineBinaryName(), PathEnv)
	}
	return path, nil
}

func EnginePathCandidates(executable string) []string {
	binDir := filepath.Dir(executable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, engineName),
	}
}

// whisper-cli decodes these containers itself; anything else is piped in as
// WAV by ffmpeg.
var cliNativeFormats = map[string]bool{
	"":     true,
	"wav":  true,
	"mp3":  true,
	"flac": true,
	"ogg":  true,
}

func NeedsTranscode(format string) bool {
	return !cliNativeFormats[strings.ToLower(strings.TrimSpace(format))]
}

// Args builds the whisper-cli arguments. Transcoded input is read from stdin.
func (e *CLIEngine) Args(req TranscriptionRequest) []string {
	input := req.AudioPath
	if NeedsTranscode(req.Format) {
		input = "-"
	}
	args := []string{"-m", e.ModelPath, "-f", input, "-nt", "-np"}
	if lang := languageArg(strings.TrimSpace(req.Language)); lang != "" {
		args = append(args, "-l", lang)
	}
	if e.Device == DeviceCPU {
		args = append(args, "-ng")
	}
	if e.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.Threads))
	}
	return args
}

func (e *CLIEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return "", errors.New("whisper-cli needs an on-disk artifact")
	}
	if err := ensureExecutable(e.Executable); err != nil {
		return "", fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	args := e.Args(req)
	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var transcode *transcoder
	if NeedsTranscode(req.Format) {
		var err error
		transcode, err = startTranscode(ctx, req.AudioPath)
		if err != nil {
			return "", err
		}
		cmd.Stdin = transcode.out
		logger.Debug("transcoding for whisper engine", zap.String("format", req.Format))
	}

	logger.Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	runErr := cmd.Run()
	if transcode != nil {
		if err := transcode.wait(); err != nil && runErr == nil {
			return "", err
		}
	}
	if runErr != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return "", fmt.Errorf("whisper engine at %s is missing shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", e.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(runErr.Error()) {
			return "", fmt.Errorf("whisper engine crashed with an illegal CPU instruction; set %s to a whisper-cli built for this CPU", PathEnv)
		}
		return "", fmt.Errorf("whisper-cli: %w (%s)", runErr, errText)
	}

	return joinTranscriptLines(stdout.String()), nil
}

// transcoder is an ffmpeg process writing 16 kHz mono WAV into a pipe.
type transcoder struct {
	cmd    *exec.Cmd
	out    *os.File
	stderr bytes.Buffer
}

func startTranscode(ctx context.Context, path string) (*transcoder, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errors.New("ffmpeg is required to decode this audio format for whisper-cli")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create transcode pipe: %w", err)
	}

	t := &transcoder{out: r}
	t.cmd = exec.CommandContext(ctx, ffmpeg,
		"-nostdin", "-loglevel", "error",
		"-i", path,
		"-ar", "16000", "-ac", "1", "-f", "wav", "pipe:1")
	t.cmd.Stdout = w
	t.cmd.Stderr = &t.stderr

	if err := t.cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()
	return t, nil
}

// wait closes the read end, so an ffmpeg still writing after whisper-cli
// exited stops on a broken pipe, and reaps the process.
func (t *transcoder) wait() error {
	_ = t.out.Close()
	if err := t.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w (%s)", err, strings.TrimSpace(t.stderr.String()))
	}
	return nil
}

func (e *CLIEngine) Close() error {
	return nil
}

func joinTranscriptLines(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	for _, pattern := range []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	} {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
