package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/monitor"
)

const permSecurityManage = "security:manage"

// requireSecurityAdmin authenticates the bearer token against the
// employee directory and checks the security:manage permission.
func (h *AuthHandler) requireSecurityAdmin(r *http.Request) error {
	identity, err := h.authenticate(r)
	if err != nil {
		return err
	}
	emp, err := h.lookupEmployee(r, identity)
	if err != nil {
		return err
	}
	for _, p := range emp.Permissions {
		if p == permSecurityManage {
			return nil
		}
	}
	return autherr.ErrForbidden
}

// Threats lists unresolved threat reports (GET /admin/threats).
func (h *AuthHandler) Threats(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"threats": h.monitor.ActiveThreatReports(),
	})
}

type resolveThreatRequest struct {
	Actions []string `json:"actions"`
}

// ResolveThreat closes one report (POST /admin/threats/{id}/resolve).
func (h *AuthHandler) ResolveThreat(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}

	var req resolveThreatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	id := chi.URLParam(r, "id")
	if !h.monitor.ResolveThreat(id, req.Actions) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "threat not found or already resolved",
		})
		return
	}
	h.monitor.LogEvent(monitor.EventAdminAction, h.adminActor(r), realIP(r), r.UserAgent(), true, "resolved threat "+id, 0)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ActivityStats serves monitor aggregates (GET /admin/activity/stats).
func (h *AuthHandler) ActivityStats(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"statistics": h.monitor.Statistics(),
	})
}

// SuspiciousActivity lists HIGH/CRITICAL events
// (GET /admin/activity/suspicious).
func (h *AuthHandler) SuspiciousActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  h.monitor.SuspiciousEvents(queryLimit(r)),
	})
}

// UserActivity lists one identity's events
// (GET /admin/activity/user/{identity}).
func (h *AuthHandler) UserActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	identity := chi.URLParam(r, "identity")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  h.monitor.UserEvents(identity, queryLimit(r)),
	})
}

type cleanupRequest struct {
	DaysOld int `json:"daysOld"`
}

// ActivityCleanup prunes old events (POST /admin/activity/cleanup).
func (h *AuthHandler) ActivityCleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSecurityAdmin(r); err != nil {
		writeError(w, err)
		return
	}

	var req cleanupRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	removed := h.monitor.Cleanup(req.DaysOld)
	h.monitor.LogEvent(monitor.EventAdminAction, h.adminActor(r), realIP(r), r.UserAgent(), true, "activity cleanup", 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}

func (h *AuthHandler) adminActor(r *http.Request) string {
	identity, err := h.authenticate(r)
	if err != nil {
		return ""
	}
	return identity
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 100
	}
	return n
}
