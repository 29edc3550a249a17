// Package otp issues and verifies short-lived one-time codes with
// per-identity rate limiting and lockout.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/repository"
	"github.com/helpinghands/auth-service/internal/util/logger"

	"github.com/helpinghands/auth-service/internal/config"
)

const codeLength = 6

// Manager owns the OTPRecord lifecycle. Durable rows are written through
// the async writer when a repository is present; their failure never
// surfaces to callers.
type Manager struct {
	cfg    config.OTPConfig
	store  Store
	repo   repository.OTPRepository
	writer *repository.AsyncWriter

	now func() time.Time
}

func NewManager(cfg config.OTPConfig, store Store, repo repository.OTPRepository, writer *repository.AsyncWriter) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		repo:   repo,
		writer: writer,
		now:    time.Now,
	}
}

// CheckRateLimit rejects identities in active lockout or past the
// issuance limit for the rolling window. The two counters never
// feed each other.
func (m *Manager) CheckRateLimit(ctx context.Context, identity string) error {
	failures, oldestFail, err := m.store.FailureWindow(ctx, identity, m.cfg.LockoutDuration)
	if err != nil {
		return fmt.Errorf("failure window: %w", err)
	}
	if failures >= m.cfg.FailureLimit {
		wait := oldestFail.Add(m.cfg.LockoutDuration).Sub(m.now())
		return autherr.LockedOut(wait)
	}

	requests, oldestReq, err := m.store.RequestWindow(ctx, identity, m.cfg.RequestWindow)
	if err != nil {
		return fmt.Errorf("request window: %w", err)
	}
	if requests >= m.cfg.RequestLimit {
		wait := oldestReq.Add(m.cfg.RequestWindow).Sub(m.now())
		return autherr.RateLimited(wait)
	}
	return nil
}

// TrackRequest records one issuance timestamp in the rolling window.
func (m *Manager) TrackRequest(ctx context.Context, identity string) error {
	return m.store.AddRequest(ctx, identity, m.cfg.RequestWindow)
}

// Issue generates a fresh code and stores it, overwriting any prior
// outstanding code for the identity. Metadata rides along and is
// returned by the successful Verify.
func (m *Manager) Issue(ctx context.Context, identity string, ttl time.Duration, metadata map[string]string) (string, error) {
	if ttl <= 0 {
		ttl = m.cfg.Expiration
	}
	code, err := generateCode(codeLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	rec := Record{
		Identity:  identity,
		Code:      code,
		ExpiresAt: m.now().Add(ttl),
		CreatedAt: m.now(),
		Metadata:  metadata,
	}
	if err := m.store.SaveRecord(ctx, rec, ttl); err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}

	m.persist(func(ctx context.Context) error {
		return m.repo.InsertOTP(ctx, repository.OTPRow{
			Email:     rec.Identity,
			Code:      rec.Code,
			ExpiresAt: rec.ExpiresAt,
			CreatedAt: rec.CreatedAt,
		})
	})
	return code, nil
}

// Verify burns one attempt on every call. On match the record is deleted
// (one-time use) and the stored metadata returned; on mismatch the
// record survives so wrong guesses accumulate toward lockout.
func (m *Manager) Verify(ctx context.Context, identity, code string) (map[string]string, error) {
	failures, oldestFail, err := m.store.FailureWindow(ctx, identity, m.cfg.LockoutDuration)
	if err != nil {
		return nil, fmt.Errorf("failure window: %w", err)
	}
	if failures >= m.cfg.FailureLimit {
		wait := oldestFail.Add(m.cfg.LockoutDuration).Sub(m.now())
		return nil, autherr.LockedOut(wait)
	}

	attempts, err := m.store.IncrementAttempts(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("increment attempts: %w", err)
	}

	rec, err := m.store.GetRecord(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no outstanding code", autherr.ErrUnauthorized)
	}

	if m.now().After(rec.ExpiresAt) {
		_ = m.store.DeleteRecord(ctx, identity)
		return nil, fmt.Errorf("%w: code expired", autherr.ErrExpired)
	}
	if attempts > m.cfg.MaxAttempts {
		_ = m.store.DeleteRecord(ctx, identity)
		_ = m.store.AddFailure(ctx, identity, m.cfg.LockoutDuration)
		return nil, fmt.Errorf("%w: attempts exhausted", autherr.ErrUnauthorized)
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		_ = m.store.AddFailure(ctx, identity, m.cfg.LockoutDuration)
		return nil, fmt.Errorf("%w: code mismatch", autherr.ErrUnauthorized)
	}

	_ = m.store.DeleteRecord(ctx, identity)
	_ = m.store.ClearFailures(ctx, identity)

	m.persist(func(ctx context.Context) error {
		return m.repo.MarkOTPUsed(ctx, rec.Identity, rec.Code)
	})

	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return meta, nil
}

// Invalidate drops any outstanding code unconditionally.
func (m *Manager) Invalidate(ctx context.Context, identity string) error {
	return m.store.DeleteRecord(ctx, identity)
}

func (m *Manager) persist(fn func(ctx context.Context) error) {
	if m.repo == nil {
		return
	}
	if m.writer != nil {
		m.writer.Enqueue(fn)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Errorf("otp durable write failed: %v", err)
		}
	}()
}

// generateCode draws each digit independently from crypto/rand so codes
// are uniform over the full keyspace.
func generateCode(n int) (string, error) {
	buf := make([]byte, n)
	out := make([]byte, n)
	for i := 0; i < n; {
		if _, err := rand.Read(buf[i:]); err != nil {
			return "", err
		}
		for _, b := range buf[i:] {
			// Reject values past the largest multiple of 10 to avoid
			// modulo bias.
			if b >= 250 {
				continue
			}
			out[i] = byte(int(b)%10) + '0'
			i++
			if i == n {
				break
			}
		}
	}
	return string(out), nil
}
