package main

import (
	"context"
	"os"

	"github.com/fmueller/voxserve/internal/capture"
	"github.com/fmueller/voxserve/internal/capture/portaudio"
	"github.com/fmueller/voxserve/internal/cli"
	"go.uber.org/zap"
)

// options collects the build-specific wiring; engine_cpp.go appends to it.
var options = []cli.Option{
	cli.WithRecorder(func(logger *zap.Logger) capture.Recorder {
		return portaudio.New(logger)
	}),
}

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stderr, options...))
}
