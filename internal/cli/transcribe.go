package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/voxserve/internal/clipboard"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const noSpeechHint = "No speech detected. Check the recording level and input device, then try again."

var errPhraseMismatch = errors.New("transcript does not match the expected phrase")

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		copyToClipboard bool
		copyEmpty       bool
		expected        string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := app.transcribeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			blank := job.IsBlank(text)
			if blank {
				app.log().Warn(noSpeechHint)
			}
			if copyToClipboard && (!blank || copyEmpty) {
				app.copyTranscript(cmd.Context(), text)
			}
			return reportVerdict(cmd.ErrOrStderr(), text, expected)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&copyToClipboard, "copy", false, "Copy the transcript to the clipboard")
	f.BoolVar(&copyEmpty, "copy-empty", false, "Copy blank transcripts too")
	f.StringVar(&expected, "expect", "", "Phrase the transcript must match, ignoring case and punctuation")
	f.Int64Var(&app.flags.MaxUploadBytes, "max-bytes", app.flags.MaxUploadBytes, "Largest accepted audio file in bytes")
	app.override("max-bytes", func(c *config.Config) { c.MaxUploadBytes = app.flags.MaxUploadBytes })
	bindSilenceFlags(cmd, app)

	return cmd
}

// transcribeFile runs the file through the same job pipeline as an upload.
func (a *appState) transcribeFile(ctx context.Context, path string) (string, error) {
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	logger := a.log()
	p, err := a.newPipeline(ctx, logger)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close engine", zap.Error(err))
		}
	}()

	spin := startSpinner(a.progressEnabled(), "Transcribing")
	started := time.Now()

	sink := job.NewStreamingSink(logger)
	j := p.controller.Start(ctx, job.Request{
		Language: a.cfg.Language,
		Source:   source.NewUpload(f, a.cfg.MaxUploadBytes),
	}, sink)
	ev := awaitTerminal(sink, spin, logger.With(zap.String("job", j.ID)))
	spin.Stop()

	if ev.Type == job.EventFailed {
		logger.Warn("transcription failed", zap.String("job", j.ID), zap.Duration("elapsed", time.Since(started)))
		return "", &jobError{kind: ev.Kind, detail: ev.Detail, path: path}
	}

	logger.Info("transcription finished",
		zap.String("job", j.ID),
		zap.String("audio", path),
		zap.Duration("elapsed", time.Since(started)))
	return ev.Result.Text, nil
}

// awaitTerminal follows the job's progress on the spinner until its terminal
// event arrives.
func awaitTerminal(sink *job.StreamingSink, spin *spinner, logger *zap.Logger) job.Event {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sink.Done():
		case <-ticker.C:
		}
		for _, ev := range sink.Drain() {
			if ev.Terminal() {
				return ev
			}
			logger.Debug(ev.Message)
			spin.Describe(ev.Message)
		}
	}
}

// reportVerdict prints the expected-phrase check. A mismatch is an error so
// scripts can rely on the exit status.
func reportVerdict(w io.Writer, text, expected string) error {
	verdict := job.CompareExpected(text, expected)
	if verdict == job.VerdictNone {
		return nil
	}
	fmt.Fprintf(w, "expected phrase: %s\n", verdict)
	if verdict == job.VerdictIncorrect {
		return errPhraseMismatch
	}
	return nil
}

type jobError struct {
	kind   job.Kind
	detail string
	path   string
}

func (e *jobError) Error() string {
	return fmt.Sprintf("transcribe %s: %s: %s", e.path, e.kind, e.detail)
}

func (a *appState) copyTranscript(ctx context.Context, text string) {
	if err := a.copyFn(ctx, text); err != nil {
		if errors.Is(err, clipboard.ErrUnavailable) {
			a.log().Warn("clipboard tool unavailable; transcript left on stdout")
			return
		}
		a.log().Warn("failed to copy transcript to clipboard; transcript left on stdout", zap.Error(err))
		return
	}
	a.log().Info("transcript copied to clipboard")
}
