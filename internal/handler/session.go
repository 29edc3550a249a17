package handler

import (
	"encoding/json"
	"net/http"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/metrics"
	"github.com/helpinghands/auth-service/internal/monitor"
)

// Sessions returns the caller's live sessions (GET /auth/session).
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	views := h.sessionViews(r, identity)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": views,
	})
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

// Logout invalidates the presented token and destroys the named session,
// or every session for the identity when none is named
// (POST /auth/logout).
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req logoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	destroyed := 0
	if req.SessionID != "" {
		if h.sessions.DestroySession(r.Context(), req.SessionID) {
			destroyed = 1
		}
	} else {
		destroyed = h.sessions.DestroyUserSessions(r.Context(), identity)
	}
	h.tokens.Invalidate(bearerToken(r))
	_ = h.otp.Invalidate(r.Context(), identity)

	metrics.ActiveSessions.Sub(float64(destroyed))
	h.monitor.LogEvent(monitor.EventLogin, identity, realIP(r), r.UserAgent(), true, "logout", 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"destroyed": destroyed,
	})
}

// DestroySessions removes every session and token for the identity
// (DELETE /auth/sessions).
func (h *AuthHandler) DestroySessions(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	destroyed := h.sessions.DestroyUserSessions(r.Context(), identity)
	revoked := h.tokens.InvalidateIdentity(identity)

	metrics.ActiveSessions.Sub(float64(destroyed))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"destroyed": destroyed,
		"revoked":   revoked,
	})
}

// authenticate resolves the bearer token to an identity.
func (h *AuthHandler) authenticate(r *http.Request) (string, error) {
	tok := bearerToken(r)
	if tok == "" {
		return "", autherr.ErrUnauthorized
	}
	return h.tokens.VerifyDurable(r.Context(), tok)
}

func (h *AuthHandler) sessionViews(r *http.Request, identity string) []map[string]any {
	views := make([]map[string]any, 0, 4)
	sessions, err := h.sessions.GetUserSessions(r.Context(), identity)
	if err != nil {
		return views
	}
	for _, v := range sessions {
		views = append(views, map[string]any{
			"sessionId":        v.ID,
			"createdAt":        v.CreatedAt,
			"lastActivity":     v.LastActivity,
			"ip":               v.IP,
			"userAgent":        v.UserAgent,
			"remainingTime":    v.RemainingTime.String(),
			"activityDuration": v.ActivityDuration.String(),
		})
	}
	return views
}
