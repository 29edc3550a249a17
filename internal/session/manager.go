// Package session layers fingerprint binding, a per-user concurrency
// cap, and idle/absolute expiry over the token layer.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/helpinghands/auth-service/internal/config"
	"github.com/helpinghands/auth-service/internal/util/logger"
)

// View is the read-model returned by GetSession.
type View struct {
	Data
	RemainingTime    time.Duration `json:"remaining_time"`
	ActivityDuration time.Duration `json:"activity_duration"`
}

// Manager owns SessionData. Per-user mutexes serialize CreateSession so
// eviction happens before admission and the cap is never observably
// exceeded.
type Manager struct {
	cfg   config.SessionConfig
	store Store

	userMu sync.Mutex
	users  map[string]*sync.Mutex

	sweeping atomic.Bool
	now      func() time.Time
}

func NewManager(cfg config.SessionConfig, store Store) *Manager {
	return &Manager{
		cfg:   cfg,
		store: store,
		users: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Fingerprint derives the hijack-detection hash binding a session to its
// user, IP, and user agent.
func Fingerprint(userID, ip, userAgent string) string {
	sum := sha256.Sum256([]byte(userID + "|" + ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	mu := m.users[userID]
	if mu == nil {
		mu = &sync.Mutex{}
		m.users[userID] = mu
	}
	return mu
}

// CreateSession admits a new session, first evicting the least-recently
// active session when the user is at the concurrency cap.
func (m *Manager) CreateSession(ctx context.Context, userID, ip, userAgent, deviceID string, metadata map[string]string) (*Data, error) {
	mu := m.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.store.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	live := existing[:0]
	for _, d := range existing {
		if m.expired(d) {
			_ = m.store.Delete(ctx, d.ID)
			continue
		}
		live = append(live, d)
	}

	if len(live) >= m.cfg.MaxConcurrent {
		sort.Slice(live, func(i, j int) bool {
			return live[i].LastActivity.Before(live[j].LastActivity)
		})
		for len(live) >= m.cfg.MaxConcurrent {
			victim := live[0]
			if err := m.store.Delete(ctx, victim.ID); err != nil {
				return nil, err
			}
			logger.Infof("session cap reached for %s, evicted %s", userID, victim.ID)
			live = live[1:]
		}
	}

	now := m.now()
	d := Data{
		ID:           uuid.NewString(),
		UserID:       userID,
		Fingerprint:  Fingerprint(userID, ip, userAgent),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.AbsoluteTTL),
		LastActivity: now,
		IP:           ip,
		UserAgent:    userAgent,
		DeviceID:     deviceID,
		Metadata:     metadata,
	}
	if err := m.store.Save(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetSession lazily expires the session against its absolute TTL and
// returns a view with derived timing fields.
func (m *Manager) GetSession(ctx context.Context, id string) (*View, error) {
	d, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	if m.now().After(d.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return nil, nil
	}
	return &View{
		Data:             *d,
		RemainingTime:    d.ExpiresAt.Sub(m.now()),
		ActivityDuration: m.now().Sub(d.CreatedAt),
	}, nil
}

// GetUserSessions returns views of the user's live sessions, expiring
// stale ones on the way.
func (m *Manager) GetUserSessions(ctx context.Context, userID string) ([]View, error) {
	sessions, err := m.store.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(sessions))
	for _, d := range sessions {
		if m.expired(d) {
			_ = m.store.Delete(ctx, d.ID)
			continue
		}
		out = append(out, View{
			Data:             d,
			RemainingTime:    d.ExpiresAt.Sub(m.now()),
			ActivityDuration: m.now().Sub(d.CreatedAt),
		})
	}
	return out, nil
}

// ValidateSession rejects on fingerprint mismatch (destroying the
// session, a hijack signal), tolerates a bare IP change with a warning,
// and rejects idle sessions even inside the absolute TTL.
func (m *Manager) ValidateSession(ctx context.Context, id, expectedFingerprint, expectedIP string) bool {
	d, err := m.store.Get(ctx, id)
	if err != nil || d == nil {
		return false
	}
	if m.now().After(d.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return false
	}
	if expectedFingerprint != "" && d.Fingerprint != expectedFingerprint {
		logger.Warnf("session %s fingerprint mismatch for user %s, destroying", id, d.UserID)
		_ = m.store.Delete(ctx, id)
		return false
	}
	if expectedIP != "" && d.IP != expectedIP {
		// Legitimate network changes (mobile, NAT) look like this.
		logger.Warnf("session %s IP changed %s -> %s for user %s", id, d.IP, expectedIP, d.UserID)
	}
	if m.now().Sub(d.LastActivity) > m.cfg.IdleTimeout {
		_ = m.store.Delete(ctx, id)
		return false
	}
	return true
}

// UpdateActivity refreshes the sliding idle window.
func (m *Manager) UpdateActivity(ctx context.Context, id string) bool {
	d, err := m.store.Get(ctx, id)
	if err != nil || d == nil {
		return false
	}
	d.LastActivity = m.now()
	return m.store.Save(ctx, *d) == nil
}

// UpdateMetadata merges patch into the session metadata.
func (m *Manager) UpdateMetadata(ctx context.Context, id string, patch map[string]string) bool {
	d, err := m.store.Get(ctx, id)
	if err != nil || d == nil {
		return false
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		d.Metadata[k] = v
	}
	return m.store.Save(ctx, *d) == nil
}

func (m *Manager) DestroySession(ctx context.Context, id string) bool {
	d, err := m.store.Get(ctx, id)
	if err != nil || d == nil {
		return false
	}
	return m.store.Delete(ctx, id) == nil
}

// DestroyUserSessions removes every session for userID, returning the
// count destroyed.
func (m *Manager) DestroyUserSessions(ctx context.Context, userID string) int {
	mu := m.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	sessions, err := m.store.UserSessions(ctx, userID)
	if err != nil {
		return 0
	}
	n := 0
	for _, d := range sessions {
		if m.store.Delete(ctx, d.ID) == nil {
			n++
		}
	}
	return n
}

// Cleanup removes absolutely-expired and idle-expired sessions. It is
// idempotent and skipped when a sweep is already running.
func (m *Manager) Cleanup(ctx context.Context) int {
	if !m.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer m.sweeping.Store(false)

	all, err := m.store.All(ctx)
	if err != nil {
		logger.Errorf("session cleanup: %v", err)
		return 0
	}
	removed := 0
	for _, d := range all {
		if m.expired(d) {
			if m.store.Delete(ctx, d.ID) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		logger.Infof("session cleanup removed %d sessions", removed)
	}
	return removed
}

// StartCleanup runs Cleanup every CleanupInterval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) expired(d Data) bool {
	now := m.now()
	return now.After(d.ExpiresAt) || now.Sub(d.LastActivity) > m.cfg.IdleTimeout
}
