package core

import (
	"time"

	"github.com/google/uuid"
)

// Framework identifies a regulatory compliance framework.
type Framework string

const (
	FrameworkSOX      Framework = "SOX"
	FrameworkPCIDSS   Framework = "PCI_DSS"
	FrameworkGDPR     Framework = "GDPR"
	FrameworkISO27001 Framework = "ISO27001"
)

// AllFrameworks lists every framework the evidence generator knows about.
var AllFrameworks = []Framework{FrameworkSOX, FrameworkPCIDSS, FrameworkGDPR, FrameworkISO27001}

// ParseFramework validates a framework name.
func ParseFramework(s string) (Framework, bool) {
	for _, f := range AllFrameworks {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// EvidenceRecord is a durable classification of a security event against
// one framework category. Records are append-only per framework.
type EvidenceRecord struct {
	RecordID     string    `json:"record_id"`
	EventID      string    `json:"event_id"`
	Framework    Framework `json:"framework"`
	Category     string    `json:"category"`
	EvidenceType string    `json:"evidence_type"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvidenceRecord creates an evidence record with a generated ID. The
// timestamp mirrors the source event so report range filters line up
// with event time, not classification time.
func NewEvidenceRecord(event *SecurityEvent, framework Framework, category, evidenceType, description string) EvidenceRecord {
	return EvidenceRecord{
		RecordID:     uuid.New().String(),
		EventID:      event.EventID,
		Framework:    framework,
		Category:     category,
		EvidenceType: evidenceType,
		Description:  description,
		Timestamp:    event.Timestamp,
	}
}
