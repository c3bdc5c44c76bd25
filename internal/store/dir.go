package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fmueller/voxserve/internal/audio"
	"go.uber.org/zap"
)

const (
	slotPrefix       = "job-"
	pendingExtension = ".audio"
)

// DirStore keeps one file per in-flight job inside a spool directory.
type DirStore struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]*Slot
}

func NewDirStore(dir string, logger *zap.Logger) *DirStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirStore{
		dir:      filepath.Clean(dir),
		logger:   logger,
		inflight: make(map[string]*Slot),
	}
}

func (d *DirStore) Dir() string {
	return d.dir
}

func (d *DirStore) Acquire(jobID string) (*Slot, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inflight[jobID]; ok {
		return nil, fmt.Errorf("%w: job %s: %w", ErrStorageUnavailable, jobID, ErrSlotInUse)
	}

	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create spool directory: %w", ErrStorageUnavailable, err)
	}

	path := d.pathFor(jobID, "")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists: %w", ErrStorageUnavailable, path, ErrSlotInUse)
		}
		return nil, fmt.Errorf("%w: create slot: %w", ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: create slot: %w", ErrStorageUnavailable, err)
	}

	slot := &Slot{jobID: jobID, path: path}
	d.inflight[jobID] = slot
	d.logger.Debug("slot acquired", zap.String("job", jobID), zap.String("path", path))
	return slot, nil
}

func (d *DirStore) Commit(slot *Slot, meta Metadata) (Artifact, error) {
	if slot == nil {
		return Artifact{}, fmt.Errorf("%w: nil slot", ErrWriteFailed)
	}
	if err := slot.writable(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	target := d.pathFor(slot.jobID, meta.Format)
	if target != slot.path {
		if err := os.Rename(slot.path, target); err != nil {
			return Artifact{}, fmt.Errorf("%w: rename slot: %w", ErrWriteFailed, err)
		}
		slot.path = target
	}

	f, err := os.OpenFile(slot.path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: open slot: %w", ErrWriteFailed, err)
	}

	size, writeErr := slot.staged.WriteTo(f)
	if writeErr == nil {
		writeErr = f.Sync()
	}
	if err := errors.Join(writeErr, f.Close()); err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %w", ErrWriteFailed, slot.path, err)
	}
	slot.committed = true

	path := slot.path
	d.logger.Debug("slot committed", zap.String("job", slot.jobID), zap.String("path", path), zap.Int64("bytes", size))

	return Artifact{
		JobID:      slot.jobID,
		Path:       path,
		Size:       size,
		SampleRate: meta.SampleRate,
		Duration:   meta.Duration,
		Format:     formatOrUnknown(meta.Format),
		open: func() (Reader, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}, nil
}

func (d *DirStore) Release(slot *Slot) error {
	if slot == nil {
		return errors.New("release nil slot")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if slot.released {
		return fmt.Errorf("slot %s: %w", slot.jobID, ErrAlreadyReleased)
	}
	slot.released = true
	slot.staged.Reset()
	delete(d.inflight, slot.jobID)

	if err := os.Remove(slot.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove slot %s: %w", slot.path, err)
	}
	d.logger.Debug("slot released", zap.String("job", slot.jobID), zap.String("path", slot.path))
	return nil
}

// Sweep removes slot files left behind by a previous process. Slots that are
// in flight in this process are kept.
func (d *DirStore) Sweep() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read spool directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		jobID, ok := jobIDFromName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		if _, busy := d.inflight[jobID]; busy {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		d.logger.Info("removed stale slot", zap.String("path", path))
	}

	return removed, errors.Join(errs...)
}

func (d *DirStore) pathFor(jobID, format string) string {
	ext := pendingExtension
	if format != "" && format != audio.FormatUnknown {
		ext = "." + format
	}
	return filepath.Join(d.dir, slotPrefix+jobID+ext)
}

func jobIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, slotPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(name, slotPrefix)
	jobID, _, found := strings.Cut(rest, ".")
	if !found || validateJobID(jobID) != nil {
		return "", false
	}
	return jobID, true
}
