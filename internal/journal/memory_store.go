package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Record(_ context.Context, event notify.Event) error {
	status, ok := StatusFor(event.Type)
	if !ok || !validCommandID(event.CommandID) {
		return nil
	}
	incoming := entryFromEvent(event, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory journal is closed")
	}
	if existing, ok := s.entries[event.CommandID]; ok {
		s.entries[event.CommandID] = merge(existing, incoming)
		return nil
	}
	s.entries[event.CommandID] = incoming
	return nil
}

func (s *MemoryStore) Get(_ context.Context, commandID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, fmt.Errorf("memory journal is closed")
	}
	entry, ok := s.entries[commandID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return entry, nil
}

// List returns the newest entries for slot first.
func (s *MemoryStore) List(_ context.Context, slot stk.SlotID, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory journal is closed")
	}
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Slot == slot {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstSequence > out[j].FirstSequence
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
