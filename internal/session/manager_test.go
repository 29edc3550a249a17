package session

import (
	"context"
	"testing"
	"time"

	"github.com/helpinghands/auth-service/internal/config"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxConcurrent:   3,
		AbsoluteTTL:     24 * time.Hour,
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

func newTestManager() (*Manager, *time.Time) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := &base
	m := NewManager(testSessionConfig(), NewMemoryStore())
	m.now = func() time.Time { return *now }
	return m, now
}

func TestCreateAndGetSession(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	d, err := m.CreateSession(ctx, "u1", "10.0.0.1", "Mozilla/5.0", "dev-1", map[string]string{"role": "volunteer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Fingerprint != Fingerprint("u1", "10.0.0.1", "Mozilla/5.0") {
		t.Error("fingerprint not derived from user, IP, and agent")
	}

	v, err := m.GetSession(ctx, d.ID)
	if err != nil || v == nil {
		t.Fatalf("get: %v, %v", v, err)
	}
	if v.Metadata["role"] != "volunteer" {
		t.Errorf("metadata = %v", v.Metadata)
	}
	if v.RemainingTime != 24*time.Hour {
		t.Errorf("remaining = %v, want 24h", v.RemainingTime)
	}
}

func TestConcurrencyCapEvictsLeastRecentlyActive(t *testing.T) {
	m, now := newTestManager()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		d, err := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, d.ID)
		*now = now.Add(time.Minute)
	}

	// Touch the oldest so the second-created session becomes the LRU.
	if !m.UpdateActivity(ctx, ids[0]) {
		t.Fatal("touch failed")
	}

	d4, err := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)
	if err != nil {
		t.Fatalf("create 4th: %v", err)
	}

	live, err := m.GetUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("live sessions = %d, want 3", len(live))
	}
	if v, _ := m.GetSession(ctx, ids[1]); v != nil {
		t.Error("least-recently-active session survived the cap")
	}
	for _, id := range []string{ids[0], ids[2], d4.ID} {
		if v, _ := m.GetSession(ctx, id); v == nil {
			t.Errorf("session %s evicted unexpectedly", id)
		}
	}
}

func TestValidateFingerprintMismatchDestroys(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	d, _ := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)

	stolen := Fingerprint("u1", "6.6.6.6", "curl/8")
	if m.ValidateSession(ctx, d.ID, stolen, "6.6.6.6") {
		t.Fatal("mismatched fingerprint accepted")
	}
	// Hijack suspicion kills the session outright.
	if v, _ := m.GetSession(ctx, d.ID); v != nil {
		t.Error("session survived a fingerprint mismatch")
	}
}

func TestValidateToleratesIPChange(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	d, _ := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)
	if !m.ValidateSession(ctx, d.ID, d.Fingerprint, "192.168.1.50") {
		t.Fatal("bare IP change rejected")
	}
	if v, _ := m.GetSession(ctx, d.ID); v == nil {
		t.Error("session destroyed on IP change")
	}
}

func TestValidateIdleTimeout(t *testing.T) {
	m, now := newTestManager()
	ctx := context.Background()

	d, _ := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)

	*now = now.Add(29 * time.Minute)
	if !m.ValidateSession(ctx, d.ID, d.Fingerprint, "10.0.0.1") {
		t.Fatal("session rejected inside the idle window")
	}

	m.UpdateActivity(ctx, d.ID)
	*now = now.Add(31 * time.Minute)
	if m.ValidateSession(ctx, d.ID, d.Fingerprint, "10.0.0.1") {
		t.Fatal("idle session accepted")
	}
}

func TestAbsoluteExpiry(t *testing.T) {
	m, now := newTestManager()
	ctx := context.Background()

	d, _ := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)

	// Keep the session active the whole day; the absolute TTL still wins.
	for i := 0; i < 25*6; i++ {
		*now = now.Add(10 * time.Minute)
		m.UpdateActivity(ctx, d.ID)
	}
	if v, _ := m.GetSession(ctx, d.ID); v != nil {
		t.Fatal("session outlived its absolute TTL")
	}
}

func TestDestroyUserSessions(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)
	m.CreateSession(ctx, "u1", "10.0.0.2", "ua", "", nil)
	m.CreateSession(ctx, "u2", "10.0.0.3", "ua", "", nil)

	if n := m.DestroyUserSessions(ctx, "u1"); n != 2 {
		t.Fatalf("destroyed %d, want 2", n)
	}
	if live, _ := m.GetUserSessions(ctx, "u2"); len(live) != 1 {
		t.Error("other user's session affected")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	m, now := newTestManager()
	ctx := context.Background()

	m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", nil)
	m.CreateSession(ctx, "u2", "10.0.0.2", "ua", "", nil)

	*now = now.Add(31 * time.Minute)
	if removed := m.Cleanup(ctx); removed != 2 {
		t.Fatalf("first sweep removed %d, want 2", removed)
	}
	if removed := m.Cleanup(ctx); removed != 0 {
		t.Fatalf("second sweep removed %d, want 0", removed)
	}
}

func TestUpdateMetadataMerges(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	d, _ := m.CreateSession(ctx, "u1", "10.0.0.1", "ua", "", map[string]string{"a": "1"})
	if !m.UpdateMetadata(ctx, d.ID, map[string]string{"b": "2"}) {
		t.Fatal("update failed")
	}
	v, _ := m.GetSession(ctx, d.ID)
	if v.Metadata["a"] != "1" || v.Metadata["b"] != "2" {
		t.Errorf("metadata = %v", v.Metadata)
	}
}
