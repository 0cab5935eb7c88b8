// Package compliance classifies security events against regulatory
// framework category taxonomies and generates evidence reports.
package compliance

import (
	"bastion/core"
)

// Category groups the event types that serve as evidence for one control
// area of a framework. Within a framework an event is evidence for at
// most one category: the first matching category wins.
type Category struct {
	Name         string
	EvidenceType string
	EventTypes   []string
}

// frameworkCategories is the per-framework category taxonomy.
var frameworkCategories = map[core.Framework][]Category{
	core.FrameworkSOX: {
		{
			Name:         "access_control",
			EvidenceType: "access_review",
			EventTypes: []string{
				core.EventAccessGranted, core.EventAccessDenied,
				core.EventAuthSuccess, core.EventAuthFailure,
			},
		},
		{
			Name:         "change_management",
			EvidenceType: "change_record",
			EventTypes:   []string{core.EventConfigChange, core.EventPermissionChange},
		},
		{
			Name:         "data_integrity",
			EvidenceType: "data_audit",
			EventTypes:   []string{core.EventDataAccess, core.EventDataDeletion},
		},
	},
	core.FrameworkPCIDSS: {
		{
			Name:         "authentication_controls",
			EvidenceType: "authentication_log",
			EventTypes: []string{
				core.EventAuthSuccess, core.EventAuthFailure, core.EventAccessDenied,
			},
		},
		{
			Name:         "account_monitoring",
			EvidenceType: "session_audit",
			EventTypes: []string{
				core.EventSessionCreated, core.EventSessionCollisionLow,
				core.EventSessionCollisionMed, core.EventSessionCollisionHig,
				core.EventSessionTerminated,
			},
		},
		{
			Name:         "cardholder_data_protection",
			EvidenceType: "data_access_log",
			EventTypes:   []string{core.EventDataAccess, core.EventDataExport},
		},
	},
	core.FrameworkGDPR: {
		{
			Name:         "data_processing",
			EvidenceType: "processing_record",
			EventTypes: []string{
				core.EventDataAccess, core.EventDataExport, core.EventDataDeletion,
			},
		},
		{
			Name:         "security_of_processing",
			EvidenceType: "security_measure",
			EventTypes: []string{
				core.EventSessionCollisionMed, core.EventSessionCollisionHig,
				core.EventRateLimitExceeded, core.EventAuthFailure,
			},
		},
	},
	core.FrameworkISO27001: {
		{
			Name:         "access_management",
			EvidenceType: "access_control_record",
			EventTypes: []string{
				core.EventAccessGranted, core.EventAccessDenied,
				core.EventPrivilegeEscalation, core.EventPermissionChange,
			},
		},
		{
			Name:         "operations_security",
			EvidenceType: "operational_log",
			EventTypes:   []string{core.EventConfigChange, core.EventRateLimitExceeded},
		},
		{
			Name:         "incident_management",
			EvidenceType: "incident_record",
			EventTypes: []string{
				core.EventSessionCollisionHig, core.EventAuthFailure,
			},
		},
	},
}

// descriptionTemplates synthesizes a human-readable description per
// framework and event type. The single %s is the subject label.
var descriptionTemplates = map[core.Framework]map[string]string{
	core.FrameworkSOX: {
		core.EventAccessGranted:    "Access granted to financial system resource by %s",
		core.EventAccessDenied:     "Access attempt denied for %s, segregation of duties preserved",
		core.EventAuthSuccess:      "Authenticated access to in-scope system by %s",
		core.EventAuthFailure:      "Failed authentication recorded for %s",
		core.EventConfigChange:     "Configuration change executed by %s under change control",
		core.EventPermissionChange: "Entitlement modification for %s captured for review",
		core.EventDataAccess:       "Financial data read by %s recorded in the audit trail",
		core.EventDataDeletion:     "Data deletion by %s captured with integrity controls",
	},
	core.FrameworkPCIDSS: {
		core.EventAuthSuccess:  "Unique-ID authentication succeeded for %s",
		core.EventAuthFailure:  "Authentication failure for %s logged per requirement 10",
		core.EventAccessDenied: "Denied access attempt by %s recorded",
		core.EventDataAccess:   "Cardholder data environment access by %s logged",
		core.EventDataExport:   "Data export by %s captured for transmission review",
	},
	core.FrameworkGDPR: {
		core.EventDataAccess:   "Personal data processed on behalf of %s, lawful basis recorded",
		core.EventDataExport:   "Personal data export by %s captured for transfer assessment",
		core.EventDataDeletion: "Erasure operation by %s recorded (right to erasure)",
	},
	core.FrameworkISO27001: {
		core.EventPrivilegeEscalation: "Privilege elevation involving %s flagged for A.9 review",
		core.EventConfigChange:        "Operational change by %s logged per A.12",
	},
}

// Categories returns the category taxonomy for a framework.
func Categories(framework core.Framework) []Category {
	return frameworkCategories[framework]
}
