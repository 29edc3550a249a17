// Package handler exposes the HTTP surface of the auth core.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/helpinghands/auth-service/internal/autherr"
	"github.com/helpinghands/auth-service/internal/config"
	"github.com/helpinghands/auth-service/internal/metrics"
	"github.com/helpinghands/auth-service/internal/monitor"
	"github.com/helpinghands/auth-service/internal/otp"
	"github.com/helpinghands/auth-service/internal/repository"
	"github.com/helpinghands/auth-service/internal/session"
	"github.com/helpinghands/auth-service/internal/telemetry"
	"github.com/helpinghands/auth-service/internal/token"
	"github.com/helpinghands/auth-service/internal/util/logger"
)

// AuthHandler wires the auth core to its HTTP routes. Directories may be
// nil, in which case the corresponding routes answer 403.
type AuthHandler struct {
	cfg       *config.Config
	otp       *otp.Manager
	tokens    *token.Store
	sessions  *session.Manager
	monitor   *monitor.ActivityMonitor
	employees repository.EmployeeDirectory
	donors    repository.DonorDirectory
	notifier  Notifier
	sink      telemetry.AuditSink
	validate  *validator.Validate
}

func NewAuthHandler(
	cfg *config.Config,
	otpMgr *otp.Manager,
	tokens *token.Store,
	sessions *session.Manager,
	mon *monitor.ActivityMonitor,
	employees repository.EmployeeDirectory,
	donors repository.DonorDirectory,
	notifier Notifier,
	sink telemetry.AuditSink,
) *AuthHandler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &AuthHandler{
		cfg:       cfg,
		otp:       otpMgr,
		tokens:    tokens,
		sessions:  sessions,
		monitor:   mon,
		employees: employees,
		donors:    donors,
		notifier:  notifier,
		sink:      sink,
		validate:  validator.New(),
	}
}

type sendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type donorSendOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	IsLogin bool   `json:"isLogin"`
	Name    string `json:"name" validate:"omitempty,max=120"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
}

type donorVerifyOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
	IsLogin bool   `json:"isLogin"`
}

// SendOTP handles POST /auth/send-otp for employee logins.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if config.OTPLoginDisabled() {
		writeError(w, autherr.ErrForbidden)
		return
	}

	var req sendOTPRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.lookupEmployee(r, req.Email); err != nil {
		h.audit(r, "/auth/send-otp", req.Email, "rejected", err, start)
		writeError(w, err)
		return
	}

	h.issueAndSend(w, r, req.Email, nil, "/auth/send-otp", start)
}

// VerifyOTP handles POST /auth/verify-otp for employee logins.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if config.OTPLoginDisabled() {
		writeError(w, autherr.ErrForbidden)
		return
	}

	var req verifyOTPRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.otp.Verify(r.Context(), req.Email, req.Code); err != nil {
		h.monitor.LogOTPAttempt(req.Email, realIP(r), r.UserAgent(), false, err.Error())
		metrics.AuthOutcomes.WithLabelValues("/auth/verify-otp", "failure").Inc()
		h.audit(r, "/auth/verify-otp", req.Email, "failure", err, start)
		writeError(w, err)
		return
	}
	h.monitor.LogOTPAttempt(req.Email, realIP(r), r.UserAgent(), true, "")

	h.completeLogin(w, r, req.Email, nil, "/auth/verify-otp", start)
}

// VerifyToken handles POST /auth/verify-token for the admin panel.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, autherr.ErrUnauthorized)
		return
	}

	identity, err := h.tokens.VerifyDurable(r.Context(), tok)
	if err != nil {
		h.monitor.LogEvent(monitor.EventTokenCheck, "", realIP(r), r.UserAgent(), false, "", 0)
		writeError(w, err)
		return
	}

	emp, err := h.lookupEmployee(r, identity)
	if err != nil {
		h.monitor.LogEvent(monitor.EventTokenCheck, identity, realIP(r), r.UserAgent(), false, "", 0)
		writeError(w, err)
		return
	}
	h.monitor.LogEvent(monitor.EventTokenCheck, identity, realIP(r), r.UserAgent(), true, "", 0)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"email":       emp.Email,
		"role":        emp.Role,
		"permissions": emp.Permissions,
	})
}

// DonorSendOTP handles POST /donor/send-otp. isLogin switches between
// must-exist (login) and must-not-exist (registration) preconditions;
// registration metadata rides on the OTP record.
func (h *AuthHandler) DonorSendOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if config.OTPLoginDisabled() {
		writeError(w, autherr.ErrForbidden)
		return
	}

	var req donorSendOTPRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if h.donors == nil {
		writeError(w, autherr.ErrForbidden)
		return
	}
	exists, err := h.donors.Exists(r.Context(), req.Email)
	if err != nil {
		logger.Errorf("donor lookup failed: %v", err)
		writeError(w, err)
		return
	}
	if req.IsLogin && !exists {
		h.audit(r, "/donor/send-otp", req.Email, "rejected", autherr.ErrForbidden, start)
		writeError(w, autherr.ErrForbidden)
		return
	}
	if !req.IsLogin && exists {
		h.audit(r, "/donor/send-otp", req.Email, "rejected", autherr.ErrForbidden, start)
		writeError(w, autherr.ErrForbidden)
		return
	}

	var metadata map[string]string
	if !req.IsLogin {
		metadata = map[string]string{"name": req.Name, "phone": req.Phone}
	}
	h.issueAndSend(w, r, req.Email, metadata, "/donor/send-otp", start)
}

// DonorVerifyOTP handles POST /donor/verify-otp.
func (h *AuthHandler) DonorVerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if config.OTPLoginDisabled() {
		writeError(w, autherr.ErrForbidden)
		return
	}

	var req donorVerifyOTPRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	metadata, err := h.otp.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		h.monitor.LogOTPAttempt(req.Email, realIP(r), r.UserAgent(), false, err.Error())
		metrics.AuthOutcomes.WithLabelValues("/donor/verify-otp", "failure").Inc()
		h.audit(r, "/donor/verify-otp", req.Email, "failure", err, start)
		writeError(w, err)
		return
	}
	h.monitor.LogOTPAttempt(req.Email, realIP(r), r.UserAgent(), true, "")

	h.completeLogin(w, r, req.Email, metadata, "/donor/verify-otp", start)
}

// issueAndSend runs the shared rate-limit/issue/deliver path and writes
// the response.
func (h *AuthHandler) issueAndSend(w http.ResponseWriter, r *http.Request, email string, metadata map[string]string, route string, start time.Time) {
	if err := h.otp.CheckRateLimit(r.Context(), email); err != nil {
		h.monitor.LogEvent(monitor.EventOTPRequest, email, realIP(r), r.UserAgent(), false, "rate limited", 0)
		metrics.AuthOutcomes.WithLabelValues(route, "rate_limited").Inc()
		h.audit(r, route, email, "rate_limited", err, start)
		writeError(w, err)
		return
	}

	if err := h.otp.TrackRequest(r.Context(), email); err != nil {
		logger.Errorf("track request: %v", err)
	}
	code, err := h.otp.Issue(r.Context(), email, h.cfg.OTP.Expiration, metadata)
	if err != nil {
		logger.Errorf("issue otp: %v", err)
		writeError(w, err)
		return
	}

	if err := h.notifier.SendOTP(r.Context(), email, code, h.cfg.OTP.Expiration); err != nil {
		logger.Errorf("otp delivery failed for %s: %v", maskEmail(email), err)
		h.audit(r, route, email, "delivery_failed", err, start)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"message": "unable to deliver verification code",
		})
		return
	}

	h.monitor.LogEvent(monitor.EventOTPRequest, email, realIP(r), r.UserAgent(), true, "", 0)
	metrics.AuthOutcomes.WithLabelValues(route, "sent").Inc()
	h.audit(r, route, email, "sent", nil, start)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "verification code sent",
		"expiresIn": int(h.cfg.OTP.Expiration.Seconds()),
	})
}

// completeLogin issues the bearer token and session after a verified
// code and writes the success response.
func (h *AuthHandler) completeLogin(w http.ResponseWriter, r *http.Request, email string, metadata map[string]string, route string, start time.Time) {
	tok, err := h.tokens.Issue(r.Context(), email)
	if err != nil {
		logger.Errorf("issue token: %v", err)
		writeError(w, err)
		return
	}
	sess, err := h.sessions.CreateSession(r.Context(), email, realIP(r), r.UserAgent(), "", metadata)
	if err != nil {
		logger.Errorf("create session: %v", err)
		writeError(w, err)
		return
	}
	metrics.ActiveSessions.Inc()
	metrics.AuthOutcomes.WithLabelValues(route, "success").Inc()
	h.audit(r, route, email, "success", nil, start)

	resp := map[string]any{
		"success":   true,
		"token":     tok,
		"sessionId": sess.ID,
		"message":   "verification successful",
	}
	if len(metadata) > 0 {
		resp["metadata"] = metadata
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) lookupEmployee(r *http.Request, email string) (*repository.Employee, error) {
	if h.employees == nil {
		return nil, autherr.ErrForbidden
	}
	emp, err := h.employees.FindByEmail(r.Context(), email)
	if err != nil {
		logger.Errorf("employee lookup failed: %v", err)
		return nil, err
	}
	if emp == nil || !emp.Active {
		return nil, autherr.ErrForbidden
	}
	return emp, nil
}

func (h *AuthHandler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return autherr.ErrValidation
	}
	if err := h.validate.Struct(dst); err != nil {
		return autherr.ErrValidation
	}
	return nil
}

func (h *AuthHandler) audit(r *http.Request, route, identity, outcome string, err error, start time.Time) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	h.sink.Publish(telemetry.AuthAuditEvent{
		Timestamp:    time.Now().UTC(),
		Route:        route,
		Method:       r.Method,
		Status:       statusFor(err),
		DurationMs:   time.Since(start).Milliseconds(),
		IdentityHash: identityHash(identity),
		IP:           realIP(r),
		Outcome:      outcome,
		Reason:       reason,
	})
}

func statusFor(err error) int {
	if err != nil {
		return autherr.Status(err)
	}
	return http.StatusOK
}
