// Package capturetest provides an in-memory capture.Recorder for tests.
package capturetest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fmueller/voxserve/internal/capture"
)

// Recorder serves a fixed device list and synthesizes a sine tone on Record.
// LookupErr and RecordErr inject failures; Short truncates the capture.
type Recorder struct {
	DeviceList []capture.Device
	LookupErr  error
	RecordErr  error
	Short      bool

	mu      sync.Mutex
	records int
}

func New(devices ...capture.Device) *Recorder {
	return &Recorder{DeviceList: devices}
}

func (r *Recorder) Devices(context.Context) ([]capture.Device, error) {
	return r.DeviceList, nil
}

func (r *Recorder) Lookup(_ context.Context, id int) (capture.Device, error) {
	if r.LookupErr != nil {
		return capture.Device{}, r.LookupErr
	}
	for _, dev := range r.DeviceList {
		if dev.ID == id || (id < 0 && dev.Default) {
			return dev, nil
		}
	}
	return capture.Device{}, capture.ErrNoDevice
}

func (r *Recorder) Record(_ context.Context, dev capture.Device, d time.Duration) ([]int16, error) {
	r.mu.Lock()
	r.records++
	r.mu.Unlock()

	if r.RecordErr != nil {
		return nil, r.RecordErr
	}

	n := capture.FrameCount(dev.SampleRate, d)
	if r.Short {
		n /= 2
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/dev.SampleRate))
	}
	return samples, nil
}

func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}
