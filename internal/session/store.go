package session

import (
	"context"
	"sync"
	"time"
)

// Data is the canonical session state. ExpiresAt is the absolute bound;
// LastActivity drives the sliding idle timeout.
type Data struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Fingerprint  string            `json:"fingerprint"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	LastActivity time.Time         `json:"last_activity"`
	IP           string            `json:"ip"`
	UserAgent    string            `json:"user_agent"`
	DeviceID     string            `json:"device_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store persists sessions. Implementations need no expiry logic of their
// own; the Manager decides what is live.
type Store interface {
	Save(ctx context.Context, d Data) error
	Get(ctx context.Context, id string) (*Data, error)
	Delete(ctx context.Context, id string) error
	UserSessions(ctx context.Context, userID string) ([]Data, error)
	All(ctx context.Context) ([]Data, error)
}

// MemoryStore is the single-instance Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Data
	byUser   map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Data),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Save(ctx context.Context, d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[d.ID] = d
	ids := s.byUser[d.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.byUser[d.UserID] = ids
	}
	ids[d.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := d
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)
	if ids := s.byUser[d.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, d.UserID)
		}
	}
	return nil
}

func (s *MemoryStore) UserSessions(ctx context.Context, userID string) ([]Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]Data, 0, len(ids))
	for id := range ids {
		if d, ok := s.sessions[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Data, 0, len(s.sessions))
	for _, d := range s.sessions {
		out = append(out, d)
	}
	return out, nil
}
