package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() config.OTPConfig {
	return config.OTPConfig{
		Expiration:      10 * time.Minute,
		MaxAttempts:     5,
		RequestLimit:    3,
		RequestWindow:   time.Minute,
		FailureLimit:    5,
		LockoutDuration: 15 * time.Minute,
	}
}

func newTestManager(cfg config.OTPConfig) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	m := NewManager(cfg, store, nil, nil)
	m.now = clock.Now
	return m, clock
}

func TestIssueAndVerify(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	code, err := m.Issue(ctx, "staff@helpinghands.org", 0, map[string]string{"name": "Priya"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code length = %d, want 6", len(code))
	}

	meta, err := m.Verify(ctx, "staff@helpinghands.org", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if meta["name"] != "Priya" {
		t.Errorf("metadata not carried through: %v", meta)
	}

	// One-time use: the same code must not verify twice.
	if _, err := m.Verify(ctx, "staff@helpinghands.org", code); !errors.Is(err, autherr.ErrUnauthorized) {
		t.Errorf("second verify = %v, want ErrUnauthorized", err)
	}
}

func TestIssueOverwritesPriorCode(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	first, _ := m.Issue(ctx, "a@x.org", 0, nil)
	second, _ := m.Issue(ctx, "a@x.org", 0, nil)

	if first != second {
		if _, err := m.Verify(ctx, "a@x.org", first); err == nil {
			t.Fatal("stale code verified after re-issuance")
		}
	}
	// Re-issue once more since the failed verify above burned an attempt.
	second, _ = m.Issue(ctx, "a@x.org", 0, nil)
	if _, err := m.Verify(ctx, "a@x.org", second); err != nil {
		t.Fatalf("current code rejected: %v", err)
	}
}

func TestRequestRateLimit(t *testing.T) {
	m, clock := newTestManager(testConfig())
	ctx := context.Background()
	id := "donor@example.org"

	for i := 0; i < 3; i++ {
		if err := m.CheckRateLimit(ctx, id); err != nil {
			t.Fatalf("request %d unexpectedly limited: %v", i+1, err)
		}
		if err := m.TrackRequest(ctx, id); err != nil {
			t.Fatalf("track: %v", err)
		}
		clock.Advance(time.Second)
	}

	err := m.CheckRateLimit(ctx, id)
	if !errors.Is(err, autherr.ErrRateLimited) {
		t.Fatalf("4th request = %v, want ErrRateLimited", err)
	}
	var retry *autherr.RetryAfterError
	if !errors.As(err, &retry) || retry.RetryAfter <= 0 {
		t.Errorf("rate limit error carries no retry hint: %v", err)
	}

	clock.Advance(time.Minute)
	if err := m.CheckRateLimit(ctx, id); err != nil {
		t.Errorf("after window elapsed, still limited: %v", err)
	}
}

func TestLockoutBlocksCorrectCode(t *testing.T) {
	m, clock := newTestManager(testConfig())
	ctx := context.Background()
	id := "staff@helpinghands.org"

	code, _ := m.Issue(ctx, id, 0, nil)
	for i := 0; i < 5; i++ {
		if _, err := m.Verify(ctx, id, "000000"); !errors.Is(err, autherr.ErrUnauthorized) {
			t.Fatalf("wrong guess %d = %v, want ErrUnauthorized", i+1, err)
		}
	}

	// Locked out now, even with the right code.
	if _, err := m.Verify(ctx, id, code); !errors.Is(err, autherr.ErrLockedOut) {
		t.Fatalf("verify during lockout = %v, want ErrLockedOut", err)
	}
	if err := m.CheckRateLimit(ctx, id); !errors.Is(err, autherr.ErrLockedOut) {
		t.Fatalf("rate check during lockout = %v, want ErrLockedOut", err)
	}

	clock.Advance(15*time.Minute + time.Second)
	fresh, _ := m.Issue(ctx, id, 0, nil)
	if _, err := m.Verify(ctx, id, fresh); err != nil {
		t.Fatalf("verify after lockout elapsed: %v", err)
	}
}

func TestExpiredCode(t *testing.T) {
	m, clock := newTestManager(testConfig())
	ctx := context.Background()

	code, _ := m.Issue(ctx, "a@x.org", 5*time.Minute, nil)
	clock.Advance(5*time.Minute + time.Second)

	if _, err := m.Verify(ctx, "a@x.org", code); !errors.Is(err, autherr.ErrExpired) {
		t.Fatalf("verify expired = %v, want ErrExpired", err)
	}
	// Record is gone; another try is a plain miss.
	if _, err := m.Verify(ctx, "a@x.org", code); !errors.Is(err, autherr.ErrUnauthorized) {
		t.Fatalf("verify after expiry deletion = %v, want ErrUnauthorized", err)
	}
}

func TestAttemptsExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.FailureLimit = 10 // keep lockout out of the way
	m, _ := newTestManager(cfg)
	ctx := context.Background()

	code, _ := m.Issue(ctx, "a@x.org", 0, nil)
	m.Verify(ctx, "a@x.org", "000000")
	m.Verify(ctx, "a@x.org", "111111")

	// Third call exceeds MaxAttempts even with the right code.
	if _, err := m.Verify(ctx, "a@x.org", code); !errors.Is(err, autherr.ErrUnauthorized) {
		t.Fatalf("verify past attempt limit = %v, want ErrUnauthorized", err)
	}
}

func TestInvalidate(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	code, _ := m.Issue(ctx, "a@x.org", 0, nil)
	if err := m.Invalidate(ctx, "a@x.org"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := m.Verify(ctx, "a@x.org", code); !errors.Is(err, autherr.ErrUnauthorized) {
		t.Fatalf("verify after invalidate = %v, want ErrUnauthorized", err)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := generateCode(6)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len(%q) = %d", code, len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 150 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

// Verify succeeds iff the guess matches the stored code, within the
// expiry and attempt limits.
func TestVerifyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m, _ := newTestManager(testConfig())
		ctx := context.Background()
		id := "p@x.org"

		code, err := m.Issue(ctx, id, 0, map[string]string{"k": "v"})
		if err != nil {
			rt.Fatalf("issue: %v", err)
		}

		guesses := rapid.SliceOfN(rapid.StringMatching(`[0-9]{6}`), 1, 4).Draw(rt, "guesses")
		failed := 0
		for _, g := range guesses {
			meta, err := m.Verify(ctx, id, g)
			if g == code {
				if failed < len(guesses) && err != nil {
					rt.Fatalf("correct guess rejected after %d failures: %v", failed, err)
				}
				if meta["k"] != "v" {
					rt.Fatalf("metadata lost: %v", meta)
				}
				return
			}
			if err == nil {
				rt.Fatalf("wrong guess %q accepted", g)
			}
			failed++
		}
	})
}
