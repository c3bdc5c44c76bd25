package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps slots in memory. AcquireErr and CommitErr inject failures.
type MemStore struct {
	AcquireErr error
	CommitErr  error

	mu       sync.Mutex
	live     map[string][]byte
	acquires int
	releases map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		live:     make(map[string][]byte),
		releases: make(map[string]int),
	}
}

func (m *MemStore) Acquire(jobID string) (*Slot, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AcquireErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, m.AcquireErr)
	}
	if _, ok := m.live[jobID]; ok {
		return nil, fmt.Errorf("%w: job %s: %w", ErrStorageUnavailable, jobID, ErrSlotInUse)
	}

	m.live[jobID] = nil
	m.acquires++
	return &Slot{jobID: jobID}, nil
}

func (m *MemStore) Commit(slot *Slot, meta Metadata) (Artifact, error) {
	if slot == nil {
		return Artifact{}, fmt.Errorf("%w: nil slot", ErrWriteFailed)
	}
	if err := slot.writable(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitErr != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailed, m.CommitErr)
	}

	data := bytes.Clone(slot.staged.Bytes())
	slot.staged.Reset()
	slot.committed = true
	m.live[slot.jobID] = data

	return Artifact{
		JobID:      slot.jobID,
		Size:       int64(len(data)),
		SampleRate: meta.SampleRate,
		Duration:   meta.Duration,
		Format:     formatOrUnknown(meta.Format),
		open: func() (Reader, error) {
			return bytesReader(data), nil
		},
	}, nil
}

func (m *MemStore) Release(slot *Slot) error {
	if slot == nil {
		return errors.New("release nil slot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if slot.released {
		return fmt.Errorf("slot %s: %w", slot.jobID, ErrAlreadyReleased)
	}
	slot.released = true
	slot.staged.Reset()
	delete(m.live, slot.jobID)
	m.releases[slot.jobID]++
	return nil
}

// Live lists the job ids whose slots have not been released.
func (m *MemStore) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemStore) Releases(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[jobID]
}

func (m *MemStore) Acquires() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires
}

// Bytes returns the committed payload of a live slot.
func (m *MemStore) Bytes(jobID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.live[jobID]
	if !ok || data == nil {
		return nil, false
	}
	return bytes.Clone(data), true
}
