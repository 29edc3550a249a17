// Package repository provides the optional durable layer behind the
// in-memory auth stores. Every interface here may be satisfied by nil,
// which puts the service in memory-only degraded mode.
package repository

import (
	"context"
	"time"
)

// TokenRow is a durable copy of an issued bearer token.
type TokenRow struct {
	Token     string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenRepository persists bearer tokens so a restarted instance can
// recover sessions through the durable verification path.
type TokenRepository interface {
	InsertToken(ctx context.Context, row TokenRow) error
	FindToken(ctx context.Context, token string) (*TokenRow, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteTokensForEmail(ctx context.Context, email string) error
}

// OTPRow is the audit copy of an issued code.
type OTPRow struct {
	Email     string
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// OTPRepository records issued codes and marks them used on successful
// verification. Best-effort; failures never block the auth path.
type OTPRepository interface {
	InsertOTP(ctx context.Context, row OTPRow) error
	MarkOTPUsed(ctx context.Context, email, code string) error
}

// Employee is the directory view of a staff account.
type Employee struct {
	Email       string
	Name        string
	Role        string
	Permissions []string
	Active      bool
}

// EmployeeDirectory answers whether an email belongs to a staff account
// and what it may do. Lookups happen before OTP issuance on the
// employee routes.
type EmployeeDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Employee, error)
}

// DonorDirectory answers whether a donor account exists, used by the
// donor login flow (isLogin=true requires an existing account).
type DonorDirectory interface {
	Exists(ctx context.Context, email string) (bool, error)
}
