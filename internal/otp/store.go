package otp

import (
	"context"
	"sync"
	"time"
)

// Record is one outstanding code for an identity. A new issuance
// overwrites any prior record (single-outstanding-code policy).
type Record struct {
	Identity  string            `json:"identity"`
	Code      string            `json:"code"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store holds OTP records and the two sliding windows (issuance requests
// and failed verifications). Implementations must make IncrementAttempts
// atomic so concurrent failed verifies are all counted.
type Store interface {
	SaveRecord(ctx context.Context, rec Record, ttl time.Duration) error
	GetRecord(ctx context.Context, identity string) (*Record, error)
	DeleteRecord(ctx context.Context, identity string) error

	// IncrementAttempts bumps the verify-attempt counter for the
	// outstanding record and returns the value after increment. The
	// counter resets on SaveRecord.
	IncrementAttempts(ctx context.Context, identity string) (int, error)

	AddRequest(ctx context.Context, identity string, window time.Duration) error
	// RequestWindow returns the live request count and the oldest entry
	// still inside the window (zero time when empty).
	RequestWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error)

	AddFailure(ctx context.Context, identity string, window time.Duration) error
	FailureWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error)
	ClearFailures(ctx context.Context, identity string) error
}

// MemoryStore is the single-instance Store. One mutex guards all maps;
// every operation is O(window size) at worst.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	attempts map[string]int
	requests map[string][]time.Time
	failures map[string][]time.Time

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		attempts: make(map[string]int),
		requests: make(map[string][]time.Time),
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) SaveRecord(ctx context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Identity] = rec
	s.attempts[rec.Identity] = 0
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, identity string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
	delete(s.attempts, identity)
	return nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identity]++
	return s.attempts[identity], nil
}

func (s *MemoryStore) AddRequest(ctx context.Context, identity string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[identity] = pruneWindow(append(s.requests[identity], s.now()), s.now().Add(-window))
	return nil
}

func (s *MemoryStore) RequestWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := pruneWindow(s.requests[identity], s.now().Add(-window))
	s.requests[identity] = live
	return windowStats(live)
}

func (s *MemoryStore) AddFailure(ctx context.Context, identity string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[identity] = pruneWindow(append(s.failures[identity], s.now()), s.now().Add(-window))
	return nil
}

func (s *MemoryStore) FailureWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := pruneWindow(s.failures[identity], s.now().Add(-window))
	s.failures[identity] = live
	return windowStats(live)
}

func (s *MemoryStore) ClearFailures(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, identity)
	return nil
}

func pruneWindow(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func windowStats(times []time.Time) (int, time.Time, error) {
	if len(times) == 0 {
		return 0, time.Time{}, nil
	}
	return len(times), times[0], nil
}
