// Package portaudio records microphone input through PortAudio. It needs cgo
// and the PortAudio library, so it is kept apart from the pure Go pipeline.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fmueller/voxserve/internal/capture"
	pa "github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const framesPerBuffer = 1024

type Recorder struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger}
}

func (r *Recorder) Devices(_ context.Context) ([]capture.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	defaultName := defaultInputName()
	inputs := make([]capture.Device, 0, len(devices))
	for index, info := range devices {
		if info.MaxInputChannels == 0 {
			continue
		}
		inputs = append(inputs, toDevice(index, info, defaultName))
	}
	return inputs, nil
}

// Lookup resolves an input device and reports its native sample rate. A
// negative id selects the default input device.
func (r *Recorder) Lookup(_ context.Context, id int) (capture.Device, error) {
	if err := pa.Initialize(); err != nil {
		return capture.Device{}, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	index, info, err := findInput(id)
	if err != nil {
		return capture.Device{}, err
	}
	return toDevice(index, info, defaultInputName()), nil
}

func (r *Recorder) Record(ctx context.Context, dev capture.Device, d time.Duration) ([]int16, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %w", capture.ErrDeviceOpen, err)
	}
	defer pa.Terminate()

	_, info, err := findInput(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceOpen, err)
	}

	total := capture.FrameCount(dev.SampleRate, d)
	buf := make([]int16, framesPerBuffer)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: 1,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      dev.SampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", capture.ErrDeviceOpen, info.Name, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("%w: start stream: %w", capture.ErrDeviceOpen, err)
	}

	r.logger.Debug("capture started",
		zap.String("device", info.Name),
		zap.Float64("sample_rate", dev.SampleRate),
		zap.Int("frames", total))

	samples, err := capture.ReadFrames(ctx, stream, buf, total,
		func(err error) bool { return errors.Is(err, pa.InputOverflowed) },
		func() {
			r.logger.Warn("input overflowed; frames were lost between blocks", zap.String("device", info.Name))
		})
	if err != nil {
		return samples, err
	}

	if err := stream.Stop(); err != nil {
		r.logger.Warn("failed to stop stream", zap.Error(err))
	}
	return samples, nil
}

// findInput maps a device id (its position in pa.Devices) to the device. A
// negative id resolves the default input device.
func findInput(id int) (int, *pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return 0, nil, fmt.Errorf("list audio devices: %w", err)
	}

	if id < 0 {
		def, err := pa.DefaultInputDevice()
		if err != nil {
			return 0, nil, fmt.Errorf("%w: default input: %w", capture.ErrNoDevice, err)
		}
		for index, info := range devices {
			if info.Name == def.Name && info.MaxInputChannels > 0 {
				return index, info, nil
			}
		}
		return id, def, nil
	}

	if id >= len(devices) {
		return 0, nil, fmt.Errorf("%w: device %d (have %d)", capture.ErrNoDevice, id, len(devices))
	}
	info := devices[id]
	if info.MaxInputChannels == 0 {
		return 0, nil, fmt.Errorf("%w: device %d (%s) has no input channels", capture.ErrNoDevice, id, info.Name)
	}
	return id, info, nil
}

func defaultInputName() string {
	def, err := pa.DefaultInputDevice()
	if err != nil || def == nil {
		return ""
	}
	return def.Name
}

func toDevice(index int, info *pa.DeviceInfo, defaultName string) capture.Device {
	return capture.Device{
		ID:         index,
		Name:       info.Name,
		SampleRate: info.DefaultSampleRate,
		Channels:   info.MaxInputChannels,
		Default:    defaultName != "" && info.Name == defaultName,
	}
}
