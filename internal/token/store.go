// Package token issues and verifies opaque bearer tokens with a 24h
// absolute TTL. Memory is authoritative; the durable layer only serves
// cold-start recovery.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/repository"
	"github.com/helpinghands/auth-service/internal/util/logger"
)

const tokenBytes = 32

// Record binds a token to an identity.
type Record struct {
	Identity  string
	CreatedAt time.Time
}

// Store keeps live tokens in memory and mirrors them to the durable
// repository asynchronously.
type Store struct {
	ttl    time.Duration
	repo   repository.TokenRepository
	writer *repository.AsyncWriter

	mu     sync.RWMutex
	tokens map[string]Record

	now func() time.Time
}

func NewStore(ttl time.Duration, repo repository.TokenRepository, writer *repository.AsyncWriter) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		ttl:    ttl,
		repo:   repo,
		writer: writer,
		tokens: make(map[string]Record),
		now:    time.Now,
	}
}

// Issue mints a high-entropy opaque token for identity. The durable copy
// is written fire-and-forget; its failure never fails the issuance.
func (s *Store) Issue(ctx context.Context, identity string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)
	created := s.now()

	s.mu.Lock()
	s.tokens[tok] = Record{Identity: identity, CreatedAt: created}
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.repo.InsertToken(ctx, repository.TokenRow{
			Token:     tok,
			Email:     identity,
			ExpiresAt: created.Add(s.ttl),
			CreatedAt: created,
		})
	})
	return tok, nil
}

// Verify checks memory only. Expired entries are removed on the way out.
func (s *Store) Verify(token string) (string, error) {
	s.mu.RLock()
	rec, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return "", autherr.ErrUnauthorized
	}
	if s.now().Sub(rec.CreatedAt) >= s.ttl {
		s.mu.Lock()
		delete(s.tokens, token)
		s.mu.Unlock()
		return "", autherr.ErrExpired
	}
	return rec.Identity, nil
}

// VerifyDurable falls back to the durable row on a memory miss,
// re-checks the TTL, and repopulates the cache on hit.
func (s *Store) VerifyDurable(ctx context.Context, token string) (string, error) {
	identity, err := s.Verify(token)
	if err == nil {
		return identity, nil
	}
	if s.repo == nil {
		return "", err
	}

	row, lookupErr := s.repo.FindToken(ctx, token)
	if lookupErr != nil {
		logger.Errorf("durable token lookup failed: %v", lookupErr)
		return "", err
	}
	if row == nil {
		return "", autherr.ErrUnauthorized
	}
	if !s.now().Before(row.ExpiresAt) {
		return "", autherr.ErrExpired
	}

	s.mu.Lock()
	s.tokens[token] = Record{Identity: row.Email, CreatedAt: row.CreatedAt}
	s.mu.Unlock()
	return row.Email, nil
}

// Invalidate removes the token from memory. The stale durable row is
// harmless: the durable path re-checks TTL and memory stays the source
// of truth for live instances.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.repo.DeleteToken(ctx, token)
	})
}

// InvalidateIdentity removes every live token for an identity, used by
// identity-change flows and admin lockdown.
func (s *Store) InvalidateIdentity(identity string) int {
	s.mu.Lock()
	n := 0
	for tok, rec := range s.tokens {
		if rec.Identity == identity {
			delete(s.tokens, tok)
			n++
		}
	}
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.repo.DeleteTokensForEmail(ctx, identity)
	})
	return n
}

func (s *Store) persist(fn func(ctx context.Context) error) {
	if s.repo == nil {
		return
	}
	if s.writer != nil {
		s.writer.Enqueue(fn)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Errorf("token durable write failed: %v", err)
		}
	}()
}
