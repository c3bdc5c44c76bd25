package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fmueller/voxserve/internal/download"
	"github.com/fmueller/voxserve/internal/engine"
	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/store"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
)

// pipeline is the store, engine handle and controller shared by every job of
// one process.
type pipeline struct {
	store      *store.DirStore
	handle     *engine.Handle
	controller *job.Controller
}

func (a *appState) newPipeline(ctx context.Context, logger *zap.Logger) (*pipeline, error) {
	spoolDir, err := platform.ResolveDataDir(platform.SpoolDir, a.cfg.SpoolDir)
	if err != nil {
		return nil, err
	}

	st := store.NewDirStore(spoolDir, logger)
	if removed, err := st.Sweep(); err != nil {
		logger.Warn("failed to sweep spool directory", zap.String("dir", spoolDir), zap.Error(err))
	} else if removed > 0 {
		logger.Info("removed stale artifacts", zap.Int("count", removed), zap.String("dir", spoolDir))
	}

	handle := engine.NewHandle(a.engineLoader(ctx, logger), logger)
	controller := job.NewController(st, handle, job.Options{
		SilenceGate: a.cfg.SilenceGate,
		SilenceDBFS: a.cfg.SilenceThresholdDBFS,
		Logger:      logger,
	})

	return &pipeline{store: st, handle: handle, controller: controller}, nil
}

// Close waits for jobs still running, then unloads the model.
func (p *pipeline) Close() error {
	p.controller.Wait()
	return p.handle.Close()
}

func (a *appState) engineLoader(ctx context.Context, logger *zap.Logger) engine.Loader {
	return func() (whisper.Engine, error) {
		factory, ok := a.engines[a.cfg.Engine]
		if !ok {
			return nil, fmt.Errorf("engine %q is not built in; rebuild with -tags whispercpp", a.cfg.Engine)
		}

		model, err := a.ensureModelAvailable(ctx, logger)
		if err != nil {
			return nil, err
		}

		logger.Info("loading model",
			zap.String("engine", a.cfg.Engine),
			zap.String("model", model.Name),
			zap.String("path", model.Path),
			zap.String("device", a.cfg.Device))
		return factory(EngineOptions{
			ModelPath: model.Path,
			Device:    a.cfg.Device,
			Threads:   a.cfg.Threads,
			Logger:    logger,
		})
	}
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveDataDir(platform.ModelsDir, a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) ensureModelAvailable(ctx context.Context, logger *zap.Logger) (whisper.ResolvedModel, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved, err := whisper.ResolveModel(a.cfg.Model, modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.cfg.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxserve setup --model %s` or enable auto_download",
			resolved.Name, resolved.Path, resolved.Name)
	}

	logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := a.fetchModel(ctx, resolved, logger); err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (a *appState) fetchModel(ctx context.Context, model whisper.ResolvedModel, logger *zap.Logger) error {
	fetcher := &download.Fetcher{Logger: logger, NoProgress: !a.progressEnabled()}
	err := fetcher.Fetch(ctx, download.Request{
		URL:         model.URL,
		Destination: model.Path,
		SHA256:      model.SHA256,
	})
	if err != nil {
		if errors.Is(err, download.ErrChecksumMismatch) {
			return fmt.Errorf("download model %q: file did not verify, try again: %w", model.Name, err)
		}
		return fmt.Errorf("download model %q: %w", model.Name, err)
	}
	return nil
}
