package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/capture"
	"github.com/fmueller/voxserve/internal/clipboard"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/tui"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var errMicrophoneUnsupported = errors.New("microphone capture is not available in this build")

// EngineOptions is what an engine factory needs to load a model.
type EngineOptions struct {
	ModelPath string
	Device    string
	Threads   int
	Logger    *zap.Logger
}

type EngineFactory func(opts EngineOptions) (whisper.Engine, error)

// Option wires platform-specific pieces into the command tree.
type Option func(*appState)

// WithRecorder enables microphone capture.
func WithRecorder(newRecorder func(logger *zap.Logger) capture.Recorder) Option {
	return func(a *appState) {
		a.newRecorder = newRecorder
	}
}

// WithEngine registers an engine backend under the name used by the engine
// setting.
func WithEngine(name string, factory EngineFactory) Option {
	return func(a *appState) {
		a.engines[name] = factory
	}
}

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	cfg       config.Config
	flags     config.Config
	overrides map[string]func(*config.Config)

	logger *zap.Logger
	now    func() time.Time

	engines     map[string]EngineFactory
	newRecorder func(logger *zap.Logger) capture.Recorder
	runTUI      func(ctx context.Context, opts tui.Options) error
	copyFn      func(ctx context.Context, text string) error
}

func newAppState(opts ...Option) *appState {
	app := &appState{
		cfg:       config.Default(),
		flags:     config.Default(),
		overrides: make(map[string]func(*config.Config)),
		now:       time.Now,
		engines: map[string]EngineFactory{
			config.EngineCLI: newCLIEngine,
		},
		runTUI: tui.Run,
		copyFn: clipboard.CopyText,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func NewRootCmd(opts ...Option) *cobra.Command {
	return newRootCmd(newAppState(opts...))
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxserve",
		Short:         "Transcribe uploaded or recorded speech with a local whisper model",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setup(cmd)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&app.configPath, "config", "", "Config file (default: <user config dir>/voxserve/config.toml)")
	pf.BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	pf.BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	pf.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")

	pf.StringVar(&app.flags.Model, "model", app.flags.Model, "Model name ("+strings.Join(whisper.ModelNames(), "|")+") or model file path")
	app.override("model", func(c *config.Config) { c.Model = app.flags.Model })
	pf.StringVar(&app.flags.ModelDir, "model-dir", "", "Directory where named models are stored")
	app.override("model-dir", func(c *config.Config) { c.ModelDir = app.flags.ModelDir })
	pf.BoolVar(&app.flags.AutoDownload, "auto-download", app.flags.AutoDownload, "Download missing named models")
	app.override("auto-download", func(c *config.Config) { c.AutoDownload = app.flags.AutoDownload })
	pf.StringVar(&app.flags.Engine, "engine", app.flags.Engine, "Inference engine: cli|cpp")
	app.override("engine", func(c *config.Config) { c.Engine = app.flags.Engine })
	pf.StringVar(&app.flags.Device, "device", app.flags.Device, "Inference device: auto|cpu|gpu")
	app.override("device", func(c *config.Config) { c.Device = app.flags.Device })
	pf.IntVar(&app.flags.Threads, "threads", 0, "Inference threads; 0 uses the engine default")
	app.override("threads", func(c *config.Config) { c.Threads = app.flags.Threads })
	pf.StringVar(&app.flags.Language, "language", app.flags.Language, "Language hint passed to the engine")
	app.override("language", func(c *config.Config) { c.Language = app.flags.Language })

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newRecordCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newDevicesCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// override registers how a changed flag is applied on top of the loaded config.
func (a *appState) override(flag string, apply func(*config.Config)) {
	a.overrides[flag] = apply
}

func (a *appState) setup(cmd *cobra.Command) error {
	logger, err := logging.New(logging.Options{Verbose: a.verbose, JSON: a.jsonLogs})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	for flag, apply := range a.overrides {
		if cmd.Flags().Changed(flag) {
			apply(&cfg)
		}
	}
	cfg.Language = sanitizeLanguage(cfg.Language)

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *appState) loadConfig() (config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath, false)
	}

	path, err := platform.ResolveConfigFile()
	if err != nil {
		a.log().Debug("no config directory; using defaults", zap.Error(err))
		return config.Default(), nil
	}
	cfg, err := config.Load(path, true)
	if err != nil {
		return config.Config{}, err
	}
	a.log().Debug("configuration loaded", zap.String("path", path))
	return cfg, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) recorder(logger *zap.Logger) (capture.Recorder, error) {
	if a.newRecorder == nil {
		return nil, errMicrophoneUnsupported
	}
	return a.newRecorder(logger), nil
}

func newCLIEngine(opts EngineOptions) (whisper.Engine, error) {
	return whisper.NewCLIEngine(whisper.CLIOptions{
		ModelPath: opts.ModelPath,
		Device:    opts.Device,
		Threads:   opts.Threads,
		Logger:    opts.Logger,
	})
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
