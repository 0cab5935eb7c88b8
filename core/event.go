package core

import (
	"time"

	"github.com/google/uuid"
)

// Well-known security event types emitted and consumed by the subsystem.
// Producers may use arbitrary type tags; these are the ones the default
// correlation rules and compliance mappings understand.
const (
	EventAccessDenied        = "ACCESS_DENIED"
	EventAccessGranted       = "ACCESS_GRANTED"
	EventAuthFailure         = "AUTH_FAILURE"
	EventAuthSuccess         = "AUTH_SUCCESS"
	EventDataAccess          = "DATA_ACCESS"
	EventDataExport          = "DATA_EXPORT"
	EventDataDeletion        = "DATA_DELETION"
	EventConfigChange        = "CONFIG_CHANGE"
	EventPrivilegeEscalation = "PRIVILEGE_ESCALATION"
	EventPermissionChange    = "PERMISSION_CHANGE"
	EventRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	EventSessionCreated      = "SESSION_CREATED"
	EventSessionCollisionLow = "SESSION_COLLISION_LOW"
	EventSessionCollisionMed = "SESSION_COLLISION_MEDIUM"
	EventSessionCollisionHig = "SESSION_COLLISION_HIGH"
	EventSessionTerminated   = "SESSION_TERMINATED"
)

// SecurityEvent is a discrete, immutable security observation. It is
// produced on the request path and consumed asynchronously by the
// correlator and the compliance generator.
type SecurityEvent struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	SubjectID   string                 `json:"subject_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	ComponentID string                 `json:"component_id,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewSecurityEvent creates an event with a generated ID and UTC timestamp.
func NewSecurityEvent(eventType string) *SecurityEvent {
	return &SecurityEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Fields:    make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
	}
}

// EventSink accepts events for asynchronous processing. Submit must never
// block the caller beyond an enqueue attempt.
type EventSink interface {
	Submit(event *SecurityEvent)
}
