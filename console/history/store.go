package history

import (
	"sync"

	"github.com/guard-x/console/console/models"
)

// DefaultCapacity matches the rolling window the analytics dashboard expects.
const DefaultCapacity = 1000

// Store is a bounded append-only log of live detection events. Appends past
// capacity evict the oldest entries first. ReadAll returns a snapshot in
// insertion order; an empty history is an empty slice, never an error.
type Store interface {
	Append(event models.DetectionEvent) error
	ReadAll() ([]models.DetectionEvent, error)
	Close() error
}

// MemoryStore keeps the history in process memory. It backs tests and serves
// as the degraded mode when the durable store cannot be opened.
type MemoryStore struct {
	mutex    sync.RWMutex
	events   []models.DetectionEvent
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		events:   make([]models.DetectionEvent, 0, capacity),
		capacity: capacity,
	}
}

func (s *MemoryStore) Append(event models.DetectionEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.events = append(s.events, event)
	if len(s.events) > s.capacity {
		overflow := len(s.events) - s.capacity
		s.events = append(s.events[:0:0], s.events[overflow:]...)
	}
	return nil
}

func (s *MemoryStore) ReadAll() ([]models.DetectionEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshot := make([]models.DetectionEvent, len(s.events))
	copy(snapshot, s.events)
	return snapshot, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
