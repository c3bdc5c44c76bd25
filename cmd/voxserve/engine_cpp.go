//go:build whispercpp

package main

import (
	"github.com/fmueller/voxserve/internal/cli"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/fmueller/voxserve/internal/whisper/cpp"
)

func init() {
	options = append(options, cli.WithEngine(config.EngineCPP, func(opts cli.EngineOptions) (whisper.Engine, error) {
		return cpp.Load(cpp.Options{
			ModelPath: opts.ModelPath,
			Device:    opts.Device,
			Threads:   opts.Threads,
			Logger:    opts.Logger,
		})
	}))
}
