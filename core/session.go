package core

import "time"

// RiskLevel is the categorical collision risk level.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskFactor names a signal that contributed to a collision assessment.
type RiskFactor string

const (
	FactorRecentActivity       RiskFactor = "RECENT_ACTIVITY"
	FactorMultipleSessions     RiskFactor = "MULTIPLE_SESSIONS"
	FactorRapidSessionCreation RiskFactor = "RAPID_SESSION_CREATION"
	FactorFingerprintMismatch  RiskFactor = "FINGERPRINT_MISMATCH"
)

// SessionRecord tracks one session for a subject. Records are marked
// inactive on forced logout, never deleted in place; the registry
// garbage-collects them after the retention window.
type SessionRecord struct {
	SessionID         string    `json:"session_id"`
	SubjectID         string    `json:"subject_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	Active            bool      `json:"active"`
	Monitored         bool      `json:"monitored"`
}

// CollisionAssessment is the ephemeral result of scoring a candidate
// session against a subject's existing sessions. It is never persisted
// beyond the decision and never surfaced raw to callers.
type CollisionAssessment struct {
	Score   float64      `json:"score"`
	Level   RiskLevel    `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

// SessionStatus is the outcome of a session validation.
type SessionStatus string

const (
	SessionValid     SessionStatus = "VALID"
	SessionMonitored SessionStatus = "MONITORED"
	SessionRejected  SessionStatus = "REJECTED"
)

// SessionDecision is returned to the caller of Guard.Validate. Internal
// risk scores are deliberately not included.
type SessionDecision struct {
	Status    SessionStatus `json:"status"`
	SessionID string        `json:"session_id"`
	Action    string        `json:"action,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}
