package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore holds sessions for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, userID string) (string, error) {
	sessionID := newSessionID()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.sessions[sessionID] = memoryEntry{
		data:      Data{UserID: userID, CreatedAt: now.UTC()},
		expiresAt: now.Add(s.ttl),
	}
	return sessionID, nil
}

func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (Data, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return Data{}, ErrNotFound
	}
	return entry.data, nil
}

func (s *MemoryStore) Destroy(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
