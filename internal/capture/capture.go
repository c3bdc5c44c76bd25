// Package capture describes microphone input devices and the recorder
// contract used by the microphone source.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultDevice selects the system default input device.
const DefaultDevice = -1

var (
	ErrNoDevice   = errors.New("input device not found")
	ErrDeviceOpen = errors.New("open input device")
)

type Device struct {
	ID         int
	Name       string
	SampleRate float64
	Channels   int
	Default    bool
}

// Recorder captures mono 16-bit audio from an input device at the device's
// native sample rate.
type Recorder interface {
	Devices(ctx context.Context) ([]Device, error)
	Lookup(ctx context.Context, id int) (Device, error)
	Record(ctx context.Context, dev Device, d time.Duration) ([]int16, error)
}

// BlockReader fills a fixed buffer with the next block of input frames.
type BlockReader interface {
	Read() error
	Abort() error
}

// ReadFrames reads blocks from r into buf until total frames are collected.
// A Read error for which overflowed returns true still filled buf, so the
// block is kept and onOverflow is called instead of failing.
func ReadFrames(ctx context.Context, r BlockReader, buf []int16, total int, overflowed func(error) bool, onOverflow func()) ([]int16, error) {
	samples := make([]int16, 0, total)
	for len(samples) < total {
		if err := ctx.Err(); err != nil {
			_ = r.Abort()
			return samples, err
		}
		if err := r.Read(); err != nil {
			if overflowed == nil || !overflowed(err) {
				_ = r.Abort()
				return samples, fmt.Errorf("read stream: %w", err)
			}
			if onOverflow != nil {
				onOverflow()
			}
		}
		samples = append(samples, buf[:min(len(buf), total-len(samples))]...)
	}
	return samples, nil
}

// FrameCount is the number of mono frames a capture of d at rate yields.
func FrameCount(rate float64, d time.Duration) int {
	return int(rate * d.Seconds())
}

func WriteDeviceList(w io.Writer, devices []Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no input devices found")
		return err
	}
	for _, dev := range devices {
		marker := " "
		if dev.Default {
			marker = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %3d  %-40s %6.0f Hz  %d ch\n", marker, dev.ID, dev.Name, dev.SampleRate, dev.Channels); err != nil {
			return err
		}
	}
	return nil
}
