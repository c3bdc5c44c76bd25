package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fmueller/voxserve/internal/capture"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/fmueller/voxserve/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRecordCmd(app *appState) *cobra.Command {
	var (
		copyToClipboard bool
		expected        string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe in an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.record(cmd.Context(), copyToClipboard, expected)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&copyToClipboard, "copy", false, "Copy each transcript to the clipboard")
	f.StringVar(&expected, "expect", "", "Prefill the phrase each transcript is checked against")
	f.IntVar(&app.flags.Microphone, "microphone", app.flags.Microphone, "Input device id from `voxserve devices`; -1 for the system default")
	app.override("microphone", func(c *config.Config) { c.Microphone = app.flags.Microphone })
	f.DurationVar(&app.flags.DefaultDuration, "duration", app.flags.DefaultDuration, "Prefilled recording duration")
	app.override("duration", func(c *config.Config) { c.DefaultDuration = app.flags.DefaultDuration })
	f.StringVar(&app.flags.SpoolDir, "spool-dir", "", "Directory for in-flight audio artifacts")
	app.override("spool-dir", func(c *config.Config) { c.SpoolDir = app.flags.SpoolDir })
	bindSilenceFlags(cmd, app)

	return cmd
}

func (a *appState) record(ctx context.Context, copyToClipboard bool, expected string) error {
	// The terminal belongs to the UI, so logs go to a file.
	logger, logPath, err := a.recordLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	recorder, err := a.recorder(logger)
	if err != nil {
		return err
	}

	p, err := a.newPipeline(ctx, logger)
	if err != nil {
		return err
	}

	opts := tui.Options{
		MinDuration:     a.cfg.MinDuration,
		MaxDuration:     a.cfg.MaxDuration,
		DefaultDuration: a.cfg.DefaultDuration,
		Device:          a.deviceLabel(ctx, recorder),
		Language:        a.cfg.Language,
		Expected:        expected,
		Start: func(d time.Duration) (job.Job, *job.StreamingSink) {
			sink := job.NewStreamingSink(logger)
			j := p.controller.Start(ctx, job.Request{
				Language: a.cfg.Language,
				Source:   source.NewMicrophone(recorder, a.cfg.Microphone, d, logger),
			}, sink)
			return j, sink
		},
	}
	if copyToClipboard {
		opts.OnTranscript = func(text string) error {
			return a.copyFn(ctx, text)
		}
	}

	a.log().Debug("interactive session started", zap.String("log", logPath))
	runErr := a.runTUI(ctx, opts)

	// A job still capturing when the UI quits keeps running until its
	// artifact is released.
	closeErr := p.Close()
	if runErr != nil {
		return fmt.Errorf("interactive session: %w", runErr)
	}
	return closeErr
}

func (a *appState) recordLogger() (*zap.Logger, string, error) {
	dir, err := platform.ResolveDataDir(platform.LogsDir, "")
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("record-%s.log", a.now().Format("20060102-150405")))

	logger, err := logging.New(logging.Options{Verbose: a.verbose, JSON: a.jsonLogs, File: path})
	if err != nil {
		return nil, "", fmt.Errorf("initialize session log: %w", err)
	}
	return logger, path, nil
}

func (a *appState) deviceLabel(ctx context.Context, recorder capture.Recorder) string {
	dev, err := recorder.Lookup(ctx, a.cfg.Microphone)
	if err != nil {
		if a.cfg.Microphone == capture.DefaultDevice {
			return "default input (unavailable)"
		}
		return fmt.Sprintf("device %d (unavailable)", a.cfg.Microphone)
	}
	return fmt.Sprintf("%s (%d, %.0f Hz)", dev.Name, dev.ID, dev.SampleRate)
}
