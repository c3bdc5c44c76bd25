package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/server"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket transcription API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&app.flags.Listen, "listen", app.flags.Listen, "HTTP listen address")
	app.override("listen", func(c *config.Config) { c.Listen = app.flags.Listen })
	f.StringVar(&app.flags.SpoolDir, "spool-dir", "", "Directory for in-flight audio artifacts")
	app.override("spool-dir", func(c *config.Config) { c.SpoolDir = app.flags.SpoolDir })
	f.Int64Var(&app.flags.MaxUploadBytes, "max-upload-bytes", app.flags.MaxUploadBytes, "Largest accepted upload in bytes")
	app.override("max-upload-bytes", func(c *config.Config) { c.MaxUploadBytes = app.flags.MaxUploadBytes })
	bindSilenceFlags(cmd, app)

	return cmd
}

func (a *appState) serve(ctx context.Context) error {
	logger := a.log()

	p, err := a.newPipeline(ctx, logger)
	if err != nil {
		return err
	}
	// Load the model in the background; requests arriving earlier fail with
	// EngineNotReady instead of blocking.
	p.handle.Warm()

	srv := server.New(p.controller, p.handle, server.Options{
		Addr:           a.cfg.Listen,
		Language:       a.cfg.Language,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		Version:        version.Resolve(),
		Logger:         logger,
	})

	serveErr := srv.ListenAndServe(ctx)
	if err := errors.Join(serveErr, p.Close()); err != nil {
		return err
	}
	logger.Info("server stopped", zap.String("addr", a.cfg.Listen))
	return nil
}

func bindSilenceFlags(cmd *cobra.Command, app *appState) {
	f := cmd.Flags()
	f.BoolVar(&app.flags.SilenceGate, "silence-gate", app.flags.SilenceGate, "Skip transcription of near-silent WAV audio")
	app.override("silence-gate", func(c *config.Config) { c.SilenceGate = app.flags.SilenceGate })
	f.Float64Var(&app.flags.SilenceThresholdDBFS, "silence-threshold-dbfs", app.flags.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
	app.override("silence-threshold-dbfs", func(c *config.Config) { c.SilenceThresholdDBFS = app.flags.SilenceThresholdDBFS })
}
