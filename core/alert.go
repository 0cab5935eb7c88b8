package core

import (
	"time"

	"github.com/google/uuid"
)

// Alert severities, ordered from least to most severe.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Threat type labels produced by the correlation rule set.
const (
	ThreatBruteForceAuth      = "BRUTE_FORCE_AUTHENTICATION"
	ThreatSessionHijack       = "SESSION_HIJACK_ATTEMPT"
	ThreatPrivilegeEscalation = "PRIVILEGE_ESCALATION_CHAIN"
	ThreatDataExfiltration    = "DATA_EXFILTRATION_STAGING"
	ThreatResourceAbuse       = "RESOURCE_ABUSE"
)

// threatSeverity is the fixed threat-to-severity table used when a rule
// does not carry an explicit severity.
var threatSeverity = map[string]string{
	ThreatBruteForceAuth:      SeverityHigh,
	ThreatSessionHijack:       SeverityCritical,
	ThreatPrivilegeEscalation: SeverityCritical,
	ThreatDataExfiltration:    SeverityHigh,
	ThreatResourceAbuse:       SeverityMedium,
}

// SeverityForThreat returns the severity for a threat type, defaulting to
// medium for unknown threats.
func SeverityForThreat(threatType string) string {
	if sev, ok := threatSeverity[threatType]; ok {
		return sev
	}
	return SeverityMedium
}

// SeverityRank returns a numeric rank for severity comparison. Unknown
// severities rank lowest.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

// SecurityAlert is the non-persisted notification emitted when a
// correlation rule pattern is satisfied. It is fanned out to the
// notification collaborator and mirrored to the audit trail.
type SecurityAlert struct {
	AlertID       string    `json:"alert_id"`
	CorrelationID string    `json:"correlation_id"`
	RuleID        string    `json:"rule_id"`
	ThreatType    string    `json:"threat_type"`
	Severity      string    `json:"severity"`
	SubjectID     string    `json:"subject_id,omitempty"`
	EventIDs      []string  `json:"event_ids"`
	Confidence    float64   `json:"confidence"`
	Description   string    `json:"description,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewSecurityAlert creates an alert with a generated ID and UTC timestamp.
func NewSecurityAlert(ruleID, threatType string) *SecurityAlert {
	return &SecurityAlert{
		AlertID:    uuid.New().String(),
		RuleID:     ruleID,
		ThreatType: threatType,
		Severity:   SeverityForThreat(threatType),
		Timestamp:  time.Now().UTC(),
	}
}
