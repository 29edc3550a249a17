package monitor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/helpinghands/auth-service/internal/config"
)

type captureSink struct {
	mu     sync.Mutex
	events []any
}

func (s *captureSink) Publish(ev any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		MaxEvents:            100,
		BruteForceThreshold:  10,
		BruteForceWindow:     time.Minute,
		VelocityThreshold:    3,
		VelocityWindow:       5 * time.Minute,
		FailureWarnThreshold: 5,
	}
}

func newTestMonitor(sink *captureSink) (*ActivityMonitor, *time.Time) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := &base
	m := NewActivityMonitor(testMonitorConfig(), sink)
	m.now = func() time.Time { return *now }
	return m, now
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		typ     EventType
		success bool
		want    RiskLevel
	}{
		{EventLogin, true, RiskLow},
		{EventLogin, false, RiskHigh},
		{EventOTPRequest, true, RiskLow},
		{EventOTPAttempt, false, RiskHigh},
		{EventTokenCheck, false, RiskMedium},
		{EventDataMutation, true, RiskMedium},
		{EventDataMutation, false, RiskHigh},
		{EventAdminAction, true, RiskMedium},
		{EventXSSAttempt, false, RiskHigh},
		{EventInjectionAttempt, false, RiskCritical},
		{EventAnomaly, true, RiskMedium},
	}
	for _, tc := range cases {
		if got := classifyRisk(tc.typ, tc.success); got != tc.want {
			t.Errorf("classifyRisk(%s, %v) = %s, want %s", tc.typ, tc.success, got, tc.want)
		}
	}
}

func TestEventBufferTrimsOldest(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxEvents = 5
	m := NewActivityMonitor(cfg, nil)

	for i := 0; i < 8; i++ {
		m.LogEvent(EventTokenCheck, fmt.Sprintf("u%d", i), "10.0.0.1", "", true, "", 0)
	}

	stats := m.Statistics()
	if stats.TotalEvents != 5 {
		t.Fatalf("buffer holds %d events, want 5", stats.TotalEvents)
	}
	// Oldest events are gone, newest survive.
	if got := m.UserEvents("u0", 10); len(got) != 0 {
		t.Error("oldest event survived the trim")
	}
	if got := m.UserEvents("u7", 10); len(got) != 1 {
		t.Error("newest event missing")
	}
}

func TestBruteForceSingleReport(t *testing.T) {
	sink := &captureSink{}
	m, now := newTestMonitor(sink)

	for i := 0; i < 9; i++ {
		m.LogOTPAttempt("victim@x.org", "6.6.6.6", "curl", false, "")
		*now = now.Add(time.Second)
	}
	if len(m.ActiveThreatReports()) != 0 {
		t.Fatal("report raised below threshold")
	}

	m.LogOTPAttempt("victim@x.org", "6.6.6.6", "curl", false, "")

	reports := m.ActiveThreatReports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want exactly 1", len(reports))
	}
	r := reports[0]
	if r.Type != ThreatBruteForce || r.Severity != RiskCritical {
		t.Errorf("report = %s/%s, want brute_force/CRITICAL", r.Type, r.Severity)
	}
	if len(r.EventIDs) != 10 {
		t.Errorf("contributing events = %d, want 10", len(r.EventIDs))
	}
	if sink.count() != 1 {
		t.Errorf("sink received %d reports, want 1", sink.count())
	}

	// The window reset on report; the next failure starts a fresh count.
	m.LogOTPAttempt("victim@x.org", "6.6.6.6", "curl", false, "")
	if len(m.ActiveThreatReports()) != 1 {
		t.Error("second report raised without a fresh burst")
	}
}

func TestBruteForceResetOnSuccess(t *testing.T) {
	m, now := newTestMonitor(&captureSink{})

	for i := 0; i < 9; i++ {
		m.LogLoginAttempt("a@x.org", "10.0.0.1", "ua", false, "")
		*now = now.Add(time.Second)
	}
	m.LogLoginAttempt("a@x.org", "10.0.0.1", "ua", true, "")
	m.LogLoginAttempt("a@x.org", "10.0.0.1", "ua", false, "")

	if len(m.ActiveThreatReports()) != 0 {
		t.Fatal("success did not reset the failure window")
	}
}

func TestBruteForceWindowSlides(t *testing.T) {
	m, now := newTestMonitor(&captureSink{})

	// 9 failures, then the window passes, then one more.
	for i := 0; i < 9; i++ {
		m.LogLoginAttempt("a@x.org", "10.0.0.1", "ua", false, "")
	}
	*now = now.Add(2 * time.Minute)
	m.LogLoginAttempt("a@x.org", "10.0.0.1", "ua", false, "")

	if len(m.ActiveThreatReports()) != 0 {
		t.Fatal("expired failures still counted toward the threshold")
	}
}

func TestSignatureDetectionInDetails(t *testing.T) {
	sink := &captureSink{}
	m, _ := newTestMonitor(sink)

	m.LogEvent(EventXSSAttempt, "attacker", "6.6.6.6", "", false, `POST /donor: <script>alert(1)</script>`, 0)

	reports := m.ActiveThreatReports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].Type != ThreatXSS || reports[0].Severity != RiskHigh {
		t.Errorf("report = %s/%s, want xss/HIGH", reports[0].Type, reports[0].Severity)
	}

	m.LogEvent(EventInjectionAttempt, "attacker", "6.6.6.6", "", false, `email=' OR '1'='1`, 0)
	reports = m.ActiveThreatReports()
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Type != ThreatSQLInjection || reports[0].Severity != RiskCritical {
		t.Errorf("report = %s/%s, want sql_injection/CRITICAL", reports[0].Type, reports[0].Severity)
	}
}

func TestVelocityAnomaly(t *testing.T) {
	m, _ := newTestMonitor(&captureSink{})

	// Build a duration baseline under the velocity threshold.
	for i := 0; i < 3; i++ {
		m.LogEvent(EventDataMutation, "a@x.org", "10.0.0.1", "", true, "", 100*time.Millisecond)
	}
	if len(m.ActiveThreatReports()) != 0 {
		t.Fatal("anomaly raised during baseline")
	}

	// Burst past the threshold with a duration far above the average.
	m.LogEvent(EventDataMutation, "a@x.org", "10.0.0.1", "", true, "", time.Second)

	reports := m.ActiveThreatReports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].Type != ThreatAnomalous || reports[0].Severity != RiskMedium {
		t.Errorf("report = %s/%s, want anomalous_behavior/MEDIUM", reports[0].Type, reports[0].Severity)
	}
}

func TestVelocityNormalDurationIsQuiet(t *testing.T) {
	m, _ := newTestMonitor(&captureSink{})

	// High rate but steady durations never trips the detector.
	for i := 0; i < 20; i++ {
		m.LogEvent(EventDataMutation, "a@x.org", "10.0.0.1", "", true, "", 100*time.Millisecond)
	}
	if len(m.ActiveThreatReports()) != 0 {
		t.Fatal("steady traffic flagged as anomalous")
	}
}

func TestResolveThreatOneWay(t *testing.T) {
	m, _ := newTestMonitor(&captureSink{})

	m.LogEvent(EventInjectionAttempt, "attacker", "6.6.6.6", "", false, "1; DROP TABLE donors", 0)
	reports := m.ActiveThreatReports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	id := reports[0].ID

	if !m.ResolveThreat(id, []string{"blocked ip"}) {
		t.Fatal("resolve failed")
	}
	if m.ResolveThreat(id, nil) {
		t.Fatal("resolved threat resolved twice")
	}
	if m.ResolveThreat("no-such-id", nil) {
		t.Fatal("unknown id resolved")
	}
	if len(m.ActiveThreatReports()) != 0 {
		t.Error("resolved threat still listed as active")
	}

	stats := m.Statistics()
	if stats.ResolvedThreats != 1 || stats.ActiveThreats != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSuspiciousEventsNewestFirst(t *testing.T) {
	m, now := newTestMonitor(&captureSink{})

	m.LogEvent(EventLogin, "a@x.org", "10.0.0.1", "", true, "", 0)
	*now = now.Add(time.Second)
	first := m.LogEvent(EventLogin, "a@x.org", "10.0.0.1", "", false, "", 0)
	*now = now.Add(time.Second)
	second := m.LogEvent(EventDataMutation, "b@x.org", "10.0.0.2", "", false, "", 0)

	got := m.SuspiciousEvents(10)
	if len(got) != 2 {
		t.Fatalf("suspicious = %d, want 2", len(got))
	}
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Error("events not ordered newest first")
	}
}

func TestStatistics(t *testing.T) {
	m, _ := newTestMonitor(&captureSink{})

	m.LogEvent(EventLogin, "a@x.org", "10.0.0.1", "", true, "", 0)
	m.LogEvent(EventLogin, "a@x.org", "10.0.0.1", "", false, "", 0)
	m.LogEvent(EventTokenCheck, "a@x.org", "10.0.0.1", "", true, "", 0)
	m.LogEvent(EventTokenCheck, "b@x.org", "10.0.0.2", "", true, "", 0)

	stats := m.Statistics()
	if stats.TotalEvents != 4 {
		t.Errorf("total = %d", stats.TotalEvents)
	}
	if stats.EventsByType[EventLogin] != 2 || stats.EventsByType[EventTokenCheck] != 2 {
		t.Errorf("by type = %v", stats.EventsByType)
	}
	if stats.SuspiciousCount != 1 {
		t.Errorf("suspicious = %d", stats.SuspiciousCount)
	}
	if stats.SuspiciousRatio != 0.25 {
		t.Errorf("ratio = %v", stats.SuspiciousRatio)
	}
}

func TestCleanupPrunesOldEvents(t *testing.T) {
	m, now := newTestMonitor(&captureSink{})

	m.LogEvent(EventLogin, "old@x.org", "10.0.0.1", "", true, "", 0)
	*now = now.Add(40 * 24 * time.Hour)
	m.LogEvent(EventLogin, "new@x.org", "10.0.0.1", "", true, "", 0)

	if removed := m.Cleanup(30); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if m.Statistics().TotalEvents != 1 {
		t.Error("recent event pruned")
	}
}
