// Package correlate implements streaming security-event correlation: a
// bounded event buffer, correlation groups keyed by derived entity keys,
// and temporal pattern matching against a rule table.
package correlate

import (
	"fmt"
	"os"
	"time"

	"bastion/core"

	"gopkg.in/yaml.v3"
)

// RulePattern describes one multi-event attack pattern: an ordered
// sequence of expected event types that must occur (not necessarily
// contiguously) within the time-span bound.
type RulePattern struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Sequence    []string      `yaml:"sequence"`
	Window      time.Duration `yaml:"window"`
	ThreatType  string        `yaml:"threat_type"`
	Severity    string        `yaml:"severity,omitempty"`
	Description string        `yaml:"description,omitempty"`
}

// UnmarshalYAML decodes a rule pattern, accepting Go duration strings
// ("5m", "1h30m") for the window field.
func (r *RulePattern) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Sequence    []string `yaml:"sequence"`
		Window      string   `yaml:"window"`
		ThreatType  string   `yaml:"threat_type"`
		Severity    string   `yaml:"severity"`
		Description string   `yaml:"description"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.ID = aux.ID
	r.Name = aux.Name
	r.Sequence = aux.Sequence
	r.ThreatType = aux.ThreatType
	r.Severity = aux.Severity
	r.Description = aux.Description
	if aux.Window != "" {
		d, err := time.ParseDuration(aux.Window)
		if err != nil {
			return fmt.Errorf("rule %q: invalid window %q: %w", aux.ID, aux.Window, err)
		}
		r.Window = d
	}
	return nil
}

// Validate checks one rule pattern.
func (r RulePattern) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule pattern id is required", core.ErrConfigurationInvalid)
	}
	if len(r.Sequence) == 0 {
		return fmt.Errorf("%w: rule %q has an empty sequence", core.ErrConfigurationInvalid, r.ID)
	}
	for _, et := range r.Sequence {
		if et == "" {
			return fmt.Errorf("%w: rule %q has an empty event type in its sequence", core.ErrConfigurationInvalid, r.ID)
		}
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: rule %q window must be positive", core.ErrConfigurationInvalid, r.ID)
	}
	if r.ThreatType == "" {
		return fmt.Errorf("%w: rule %q threat_type is required", core.ErrConfigurationInvalid, r.ID)
	}
	if r.Severity != "" && core.SeverityRank(r.Severity) < 0 {
		return fmt.Errorf("%w: rule %q has unknown severity %q", core.ErrConfigurationInvalid, r.ID, r.Severity)
	}
	return nil
}

// ValidatePatterns checks a rule table, including ID uniqueness.
func ValidatePatterns(rules []RulePattern) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule pattern id %q", core.ErrConfigurationInvalid, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// LoadPatterns reads a YAML rule table from disk.
func LoadPatterns(path string) ([]RulePattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule patterns: %w", err)
	}
	var doc struct {
		Patterns []RulePattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse rule patterns: %v", core.ErrConfigurationInvalid, err)
	}
	if err := ValidatePatterns(doc.Patterns); err != nil {
		return nil, err
	}
	return doc.Patterns, nil
}

// DefaultPatterns is the built-in rule table, used when no pattern file
// is configured.
func DefaultPatterns() []RulePattern {
	return []RulePattern{
		{
			ID:         "brute-force-auth",
			Name:       "Brute force authentication",
			Sequence:   []string{core.EventAccessDenied, core.EventAccessDenied, core.EventAccessDenied},
			Window:     5 * time.Minute,
			ThreatType: core.ThreatBruteForceAuth,
		},
		{
			ID:         "session-hijack",
			Name:       "Session hijack attempt",
			Sequence:   []string{core.EventSessionCollisionMed, core.EventSessionCollisionHig},
			Window:     10 * time.Minute,
			ThreatType: core.ThreatSessionHijack,
		},
		{
			ID:         "privilege-escalation-chain",
			Name:       "Privilege escalation chain",
			Sequence:   []string{core.EventAccessDenied, core.EventPrivilegeEscalation, core.EventPermissionChange},
			Window:     15 * time.Minute,
			ThreatType: core.ThreatPrivilegeEscalation,
		},
		{
			ID:         "data-exfiltration-staging",
			Name:       "Data exfiltration staging",
			Sequence:   []string{core.EventDataAccess, core.EventDataAccess, core.EventDataExport},
			Window:     10 * time.Minute,
			ThreatType: core.ThreatDataExfiltration,
		},
		{
			ID:         "resource-abuse",
			Name:       "Sustained quota abuse",
			Sequence:   []string{core.EventRateLimitExceeded, core.EventRateLimitExceeded, core.EventRateLimitExceeded},
			Window:     5 * time.Minute,
			ThreatType: core.ThreatResourceAbuse,
		},
	}
}
