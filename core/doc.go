// Package core contains the shared domain types of the Bastion runtime
// defense layer: security events, alerts, session records, evidence
// records, and the error taxonomy used across components.
package core
