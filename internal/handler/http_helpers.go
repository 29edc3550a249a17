package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/helpinghands/auth-service/internal/autherr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a taxonomy error. Expired credentials get the same
// message as invalid ones so responses carry no guessing oracle.
func writeError(w http.ResponseWriter, err error) {
	status := autherr.Status(err)
	msg := err.Error()
	if errors.Is(err, autherr.ErrExpired) || errors.Is(err, autherr.ErrUnauthorized) {
		msg = autherr.ErrUnauthorized.Error()
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// realIP returns the client address. chi's RealIP middleware has already
// folded proxy headers into RemoteAddr.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// identityHash pseudonymizes an identity for audit events.
func identityHash(identity string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(identity)))
	return hex.EncodeToString(sum[:8])
}
