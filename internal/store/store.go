// Package store owns the transient audio artifact of a job. It is the only
// package that writes job audio to disk.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrWriteFailed        = errors.New("write failed")
	ErrSlotInUse          = errors.New("slot already in use")
	ErrAlreadyReleased    = errors.New("slot already released")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store hands out one slot per job. Every successful Acquire must be matched
// by exactly one Release.
type Store interface {
	Acquire(jobID string) (*Slot, error)
	Commit(slot *Slot, meta Metadata) (Artifact, error)
	Release(slot *Slot) error
}

type Metadata struct {
	SampleRate int
	Duration   time.Duration
	Format     string
}

// Reader is what Artifact.Open returns: random access for WAV parsing plus
// sequential reads for piping into decoders.
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

type Artifact struct {
	JobID      string
	Path       string
	Size       int64
	SampleRate int
	Duration   time.Duration
	Format     string

	open func() (Reader, error)
}

func (a Artifact) Open() (Reader, error) {
	if a.open == nil {
		return nil, errors.New("artifact has no backing storage")
	}
	return a.open()
}

// Slot is the writable handle of one job. Writes are staged in memory until
// Commit.
type Slot struct {
	jobID     string
	path      string
	staged    bytes.Buffer
	committed bool
	released  bool
}

func (s *Slot) JobID() string {
	return s.jobID
}

// Path is empty for in-memory slots.
func (s *Slot) Path() string {
	return s.path
}

func (s *Slot) Len() int {
	return s.staged.Len()
}

func (s *Slot) Write(p []byte) (int, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	return s.staged.Write(p)
}

func (s *Slot) writable() error {
	switch {
	case s.released:
		return fmt.Errorf("slot %s: %w", s.jobID, ErrAlreadyReleased)
	case s.committed:
		return fmt.Errorf("slot %s already committed", s.jobID)
	default:
		return nil
	}
}

func formatOrUnknown(format string) string {
	if format == "" {
		return audio.FormatUnknown
	}
	return format
}

func validateJobID(jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error {
	return nil
}

func bytesReader(data []byte) Reader {
	return nopCloser{bytes.NewReader(data)}
}
