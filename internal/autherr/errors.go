// Package autherr defines the error taxonomy shared by the auth core.
// Components return these typed errors across their public contract and
// handlers translate them to HTTP status codes; raw low-level errors never
// cross a component boundary.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrValidation marks malformed input (identity/code shape).
	ErrValidation = errors.New("invalid request")

	// ErrRateLimited marks too many requests inside the rolling window.
	ErrRateLimited = errors.New("too many requests")

	// ErrLockedOut marks too many failed verifications for an identity.
	ErrLockedOut = errors.New("too many failed attempts")

	// ErrExpired marks an OTP, token, or session past its TTL. Handlers must
	// render it identically to ErrUnauthorized so expiry is not an oracle.
	ErrExpired = errors.New("credential expired")

	// ErrUnauthorized marks a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks a valid credential whose identity is inactive or
	// lacks the required permission.
	ErrForbidden = errors.New("forbidden")

	// ErrThreatDetected marks a request rejected pre-handler on an attack
	// signature match. The user-facing message never names the signature.
	ErrThreatDetected = errors.New("unsafe content detected")
)

// RetryAfterError wraps ErrRateLimited or ErrLockedOut with a human-readable
// wait hint for the 429 response body.
type RetryAfterError struct {
	Reason     error
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s, try again in %s", e.Reason.Error(), humanDuration(e.RetryAfter))
}

func (e *RetryAfterError) Unwrap() error { return e.Reason }

// RateLimited builds a retry-hinted rate-limit error.
func RateLimited(wait time.Duration) error {
	return &RetryAfterError{Reason: ErrRateLimited, RetryAfter: wait}
}

// LockedOut builds a retry-hinted lockout error.
func LockedOut(wait time.Duration) error {
	return &RetryAfterError{Reason: ErrLockedOut, RetryAfter: wait}
}

// Status maps a taxonomy error to its HTTP status code. Expired and invalid
// credentials map to the same code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrThreatDetected):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrLockedOut):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d < time.Minute:
		secs := int(d.Round(time.Second).Seconds())
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	default:
		mins := int(d.Round(time.Minute).Minutes())
		if mins <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
}
