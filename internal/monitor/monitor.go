// Package monitor ingests authentication-relevant activity, classifies
// per-event risk, and correlates events into threat reports. All
// detection is CPU-only and runs inline under the monitor lock; nothing
// here blocks on I/O.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helpinghands/auth-service/internal/config"
	"github.com/helpinghands/auth-service/internal/metrics"
	"github.com/helpinghands/auth-service/internal/telemetry"
	"github.com/helpinghands/auth-service/internal/util/logger"
)

type EventType string

const (
	EventLogin            EventType = "login"
	EventOTPRequest       EventType = "otp_request"
	EventOTPAttempt       EventType = "otp_attempt"
	EventTokenCheck       EventType = "token_check"
	EventDataMutation     EventType = "data_mutation"
	EventAdminAction      EventType = "admin_action"
	EventXSSAttempt       EventType = "xss_attempt"
	EventInjectionAttempt EventType = "injection_attempt"
	EventAnomaly          EventType = "anomaly"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type ThreatType string

const (
	ThreatBruteForce   ThreatType = "brute_force"
	ThreatXSS          ThreatType = "xss"
	ThreatSQLInjection ThreatType = "sql_injection"
	ThreatAnomalous    ThreatType = "anomalous_behavior"
)

// ActivityEvent is an immutable, append-only record of one observed
// action. Events are trimmed from the front once the buffer is full.
type ActivityEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Type      EventType     `json:"type"`
	Actor     string        `json:"actor"`
	IP        string        `json:"ip"`
	UserAgent string        `json:"user_agent,omitempty"`
	RiskLevel RiskLevel     `json:"risk_level"`
	Success   bool          `json:"success"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// ThreatReport correlates one or more events into a named concern.
// Resolved transitions false to true exactly once.
type ThreatReport struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Actor       string     `json:"actor"`
	IP          string     `json:"ip"`
	Type        ThreatType `json:"type"`
	Severity    RiskLevel  `json:"severity"`
	EventIDs    []string   `json:"event_ids"`
	Description string     `json:"description"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  time.Time  `json:"resolved_at,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
}

// Statistics is the aggregate view served on the admin surface.
type Statistics struct {
	TotalEvents     int               `json:"total_events"`
	EventsByType    map[EventType]int `json:"events_by_type"`
	SuspiciousCount int               `json:"suspicious_count"`
	SuspiciousRatio float64           `json:"suspicious_ratio"`
	ActiveThreats   int               `json:"active_threats"`
	ResolvedThreats int               `json:"resolved_threats"`
}

type failureWindow struct {
	times    []time.Time
	eventIDs []string
}

type durationStats struct {
	total time.Duration
	count int64
}

// ActivityMonitor owns the event ring buffer, the sliding failure and
// velocity counters, and the threat reports. One mutex guards all of it;
// detectors read-then-write under that lock so concurrent ingestion for
// the same key never loses updates.
type ActivityMonitor struct {
	cfg  config.MonitorConfig
	sink telemetry.AuditSink

	mu        sync.Mutex
	events    []ActivityEvent
	threats   map[string]*ThreatReport
	failures  map[string]*failureWindow // actor:ip
	velocity  map[string][]time.Time    // actor
	durations map[string]*durationStats // actor

	now func() time.Time
}

func NewActivityMonitor(cfg config.MonitorConfig, sink telemetry.AuditSink) *ActivityMonitor {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &ActivityMonitor{
		cfg:       cfg,
		sink:      sink,
		events:    make([]ActivityEvent, 0, 1024),
		threats:   make(map[string]*ThreatReport),
		failures:  make(map[string]*failureWindow),
		velocity:  make(map[string][]time.Time),
		durations: make(map[string]*durationStats),
		now:       time.Now,
	}
}

// LogEvent records one event, classifies its risk, and runs the threat
// detectors. The returned copy is safe to retain.
func (m *ActivityMonitor) LogEvent(t EventType, actor, ip, userAgent string, success bool, details string, duration time.Duration) ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := ActivityEvent{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		Type:      t,
		Actor:     actor,
		IP:        ip,
		UserAgent: userAgent,
		RiskLevel: classifyRisk(t, success),
		Success:   success,
		Details:   details,
		Duration:  duration,
	}

	m.events = append(m.events, ev)
	if len(m.events) > m.cfg.MaxEvents {
		m.events = m.events[len(m.events)-m.cfg.MaxEvents:]
	}

	m.detectThreats(ev)
	return ev
}

// LogLoginAttempt records a login outcome and feeds the keyed failure
// window used by the brute-force detector.
func (m *ActivityMonitor) LogLoginAttempt(actor, ip, userAgent string, success bool, details string) ActivityEvent {
	return m.logAttempt(EventLogin, actor, ip, userAgent, success, details)
}

// LogOTPAttempt records an OTP verification outcome, same bookkeeping as
// login attempts.
func (m *ActivityMonitor) LogOTPAttempt(actor, ip, userAgent string, success bool, details string) ActivityEvent {
	return m.logAttempt(EventOTPAttempt, actor, ip, userAgent, success, details)
}

func (m *ActivityMonitor) logAttempt(t EventType, actor, ip, userAgent string, success bool, details string) ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := ActivityEvent{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		Type:      t,
		Actor:     actor,
		IP:        ip,
		UserAgent: userAgent,
		RiskLevel: classifyRisk(t, success),
		Success:   success,
		Details:   details,
	}

	m.events = append(m.events, ev)
	if len(m.events) > m.cfg.MaxEvents {
		m.events = m.events[len(m.events)-m.cfg.MaxEvents:]
	}

	key := actor + ":" + ip
	if !success {
		w := m.failures[key]
		if w == nil {
			w = &failureWindow{}
			m.failures[key] = w
		}
		w.times = append(w.times, ev.Timestamp)
		w.eventIDs = append(w.eventIDs, ev.ID)
		m.pruneFailures(w)
		if len(w.times) == m.cfg.FailureWarnThreshold {
			logger.Warnf("repeated auth failures for %s (%d in window)", key, len(w.times))
		}
	} else {
		delete(m.failures, key)
	}

	m.detectThreats(ev)
	return ev
}

// detectThreats runs under m.mu. Order matters: brute force first, then
// signatures, then velocity.
func (m *ActivityMonitor) detectThreats(ev ActivityEvent) {
	m.detectBruteForce(ev)
	m.detectSignatures(ev)
	m.detectVelocity(ev)
}

func (m *ActivityMonitor) detectBruteForce(ev ActivityEvent) {
	if ev.Success || (ev.Type != EventLogin && ev.Type != EventOTPAttempt) {
		return
	}
	key := ev.Actor + ":" + ev.IP
	w := m.failures[key]
	if w == nil {
		return
	}
	m.pruneFailures(w)
	if len(w.times) < m.cfg.BruteForceThreshold {
		return
	}

	ids := make([]string, len(w.eventIDs))
	copy(ids, w.eventIDs)
	m.raiseThreat(ThreatReport{
		Actor:       ev.Actor,
		IP:          ev.IP,
		Type:        ThreatBruteForce,
		Severity:    RiskCritical,
		EventIDs:    ids,
		Description: fmt.Sprintf("%d failed attempts for %s within %s", len(ids), key, m.cfg.BruteForceWindow),
	})
	// Reset so one burst yields exactly one report.
	delete(m.failures, key)
}

func (m *ActivityMonitor) detectSignatures(ev ActivityEvent) {
	if ev.Details == "" {
		return
	}
	threat, ok := Classify(ev.Details)
	if !ok {
		return
	}
	severity := RiskHigh
	if threat == ThreatSQLInjection {
		severity = RiskCritical
	}
	m.raiseThreat(ThreatReport{
		Actor:       ev.Actor,
		IP:          ev.IP,
		Type:        threat,
		Severity:    severity,
		EventIDs:    []string{ev.ID},
		Description: fmt.Sprintf("signature %q matched in event details", MatchedSignature(ev.Details)),
	})
}

func (m *ActivityMonitor) detectVelocity(ev ActivityEvent) {
	if ev.Actor == "" {
		return
	}
	times := append(m.velocity[ev.Actor], ev.Timestamp)
	cutoff := m.now().Add(-m.cfg.VelocityWindow)
	for len(times) > 0 && times[0].Before(cutoff) {
		times = times[1:]
	}
	m.velocity[ev.Actor] = times

	d := m.durations[ev.Actor]
	if d == nil {
		d = &durationStats{}
		m.durations[ev.Actor] = d
	}
	avg := time.Duration(0)
	if d.count > 0 {
		avg = d.total / time.Duration(d.count)
	}
	if ev.Duration > 0 {
		d.total += ev.Duration
		d.count++
	}

	if len(times) <= m.cfg.VelocityThreshold {
		return
	}
	if avg <= 0 || ev.Duration <= 3*avg {
		return
	}
	m.raiseThreat(ThreatReport{
		Actor:       ev.Actor,
		IP:          ev.IP,
		Type:        ThreatAnomalous,
		Severity:    RiskMedium,
		EventIDs:    []string{ev.ID},
		Description: fmt.Sprintf("%d events in %s with duration %s above 3x average %s", len(times), m.cfg.VelocityWindow, ev.Duration, avg),
	})
	m.velocity[ev.Actor] = nil
}

// raiseThreat runs under m.mu.
func (m *ActivityMonitor) raiseThreat(r ThreatReport) {
	r.ID = uuid.NewString()
	r.Timestamp = m.now()
	m.threats[r.ID] = &r

	metrics.ThreatsDetected.WithLabelValues(string(r.Type), string(r.Severity)).Inc()
	logger.Warnf("threat detected: %s severity=%s actor=%s ip=%s (%s)", r.Type, r.Severity, r.Actor, r.IP, r.Description)
	m.sink.Publish(telemetry.ThreatAuditEvent{
		Timestamp: r.Timestamp,
		Type:      string(r.Type),
		Severity:  string(r.Severity),
		Actor:     r.Actor,
		IP:        r.IP,
		EventIDs:  r.EventIDs,
		Details:   r.Description,
	})
}

func (m *ActivityMonitor) pruneFailures(w *failureWindow) {
	cutoff := m.now().Add(-m.cfg.BruteForceWindow)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	w.times = w.times[i:]
	w.eventIDs = w.eventIDs[i:]
}

// UserEvents returns the newest events for one actor, newest first.
func (m *ActivityMonitor) UserEvents(actor string, limit int) []ActivityEvent {
	return m.filterEvents(limit, func(ev ActivityEvent) bool { return ev.Actor == actor })
}

// IPEvents returns the newest events from one IP, newest first.
func (m *ActivityMonitor) IPEvents(ip string, limit int) []ActivityEvent {
	return m.filterEvents(limit, func(ev ActivityEvent) bool { return ev.IP == ip })
}

// SuspiciousEvents returns HIGH and CRITICAL events, newest first.
func (m *ActivityMonitor) SuspiciousEvents(limit int) []ActivityEvent {
	return m.filterEvents(limit, func(ev ActivityEvent) bool {
		return ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical
	})
}

func (m *ActivityMonitor) filterEvents(limit int, keep func(ActivityEvent) bool) []ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]ActivityEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}

// ActiveThreatReports returns unresolved reports, newest first.
func (m *ActivityMonitor) ActiveThreatReports() []ThreatReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ThreatReport, 0, len(m.threats))
	for _, r := range m.threats {
		if !r.Resolved {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ResolveThreat closes a report with its remediation actions. Returns
// false for unknown or already-resolved ids; resolution never reopens.
func (m *ActivityMonitor) ResolveThreat(id string, actions []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.threats[id]
	if !ok || r.Resolved {
		return false
	}
	r.Resolved = true
	r.ResolvedAt = m.now()
	r.Actions = append([]string(nil), actions...)
	return true
}

// Statistics aggregates the current buffer and report set.
func (m *ActivityMonitor) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{EventsByType: make(map[EventType]int)}
	for _, ev := range m.events {
		stats.TotalEvents++
		stats.EventsByType[ev.Type]++
		if ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical {
			stats.SuspiciousCount++
		}
	}
	if stats.TotalEvents > 0 {
		stats.SuspiciousRatio = float64(stats.SuspiciousCount) / float64(stats.TotalEvents)
	}
	for _, r := range m.threats {
		if r.Resolved {
			stats.ResolvedThreats++
		} else {
			stats.ActiveThreats++
		}
	}
	return stats
}

// Cleanup prunes events and resolved reports older than daysOld days.
// Returns the number of events removed.
func (m *ActivityMonitor) Cleanup(daysOld int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := m.now().AddDate(0, 0, -daysOld)

	kept := m.events[:0]
	removed := 0
	for _, ev := range m.events {
		if ev.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept

	for id, r := range m.threats {
		if r.Resolved && r.ResolvedAt.Before(cutoff) {
			delete(m.threats, id)
		}
	}
	return removed
}
