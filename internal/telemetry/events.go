// Package telemetry ships audit events to Kafka without blocking the
// request path.
package telemetry

import "time"

// AuthAuditEvent records one auth-route outcome.
type AuthAuditEvent struct {
	Timestamp    time.Time `json:"@timestamp"`
	Route        string    `json:"route"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	DurationMs   int64     `json:"duration_ms"`
	IdentityHash string    `json:"identity_hash,omitempty"`
	IP           string    `json:"ip,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// ThreatAuditEvent records one threat report or attack-typed activity
// event for the security pipeline.
type ThreatAuditEvent struct {
	Timestamp time.Time `json:"@timestamp"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Actor     string    `json:"actor,omitempty"`
	IP        string    `json:"ip,omitempty"`
	EventIDs  []string  `json:"event_ids,omitempty"`
	Details   string    `json:"details,omitempty"`
}
