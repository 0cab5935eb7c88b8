package session

import (
	"fmt"
	"time"

	"bastion/core"
)

// ScorerConfig holds the collision risk weights and thresholds. The
// numeric defaults are configuration, not contract; deployments tune
// them per environment.
type ScorerConfig struct {
	// HighRiskThreshold and MediumRiskThreshold map scores to levels.
	HighRiskThreshold   float64 `mapstructure:"high_risk_threshold"`
	MediumRiskThreshold float64 `mapstructure:"medium_risk_threshold"`

	// ActivityFreshness is the window within which prior-session
	// activity counts as recent.
	ActivityFreshness time.Duration `mapstructure:"activity_freshness"`
	// MultiplicityThreshold is the active session count above which the
	// MULTIPLE_SESSIONS factor applies.
	MultiplicityThreshold int `mapstructure:"multiplicity_threshold"`
	// RapidCreationCount within RapidCreationWindow triggers the
	// RAPID_SESSION_CREATION factor.
	RapidCreationCount  int           `mapstructure:"rapid_creation_count"`
	RapidCreationWindow time.Duration `mapstructure:"rapid_creation_window"`

	// Weighted score contributions per factor.
	WeightFingerprintMismatch float64 `mapstructure:"weight_fingerprint_mismatch"`
	WeightRecentActivity      float64 `mapstructure:"weight_recent_activity"`
	WeightMultipleSessions    float64 `mapstructure:"weight_multiple_sessions"`
	WeightRapidCreation       float64 `mapstructure:"weight_rapid_creation"`
}

// DefaultScorerConfig returns the illustrative defaults from the source
// material.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		HighRiskThreshold:         80,
		MediumRiskThreshold:       50,
		ActivityFreshness:         5 * time.Minute,
		MultiplicityThreshold:     2,
		RapidCreationCount:        3,
		RapidCreationWindow:       2 * time.Minute,
		WeightFingerprintMismatch: 40,
		WeightRecentActivity:      25,
		WeightMultipleSessions:    20,
		WeightRapidCreation:       25,
	}
}

// Validate checks scorer configuration at startup.
func (c ScorerConfig) Validate() error {
	if c.HighRiskThreshold <= c.MediumRiskThreshold {
		return fmt.Errorf("%w: high_risk_threshold must exceed medium_risk_threshold", core.ErrConfigurationInvalid)
	}
	if c.MediumRiskThreshold <= 0 || c.HighRiskThreshold > 100 {
		return fmt.Errorf("%w: risk thresholds must lie in (0,100]", core.ErrConfigurationInvalid)
	}
	if c.ActivityFreshness <= 0 || c.RapidCreationWindow <= 0 {
		return fmt.Errorf("%w: scorer windows must be positive", core.ErrConfigurationInvalid)
	}
	if c.MultiplicityThreshold < 1 || c.RapidCreationCount < 1 {
		return fmt.Errorf("%w: scorer count thresholds must be positive", core.ErrConfigurationInvalid)
	}
	return nil
}

// Scorer computes collision risk for a candidate session against the
// subject's existing sessions.
type Scorer struct {
	cfg ScorerConfig
}

// NewScorer creates a scorer.
func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Assess scores the candidate fingerprint against the subject's existing
// active sessions. The score is clamped to [0,100]; the assessment is
// ephemeral and never persisted.
func (s *Scorer) Assess(candidateFingerprint string, existing []core.SessionRecord) core.CollisionAssessment {
	now := time.Now().UTC()
	score := 0.0
	var factors []core.RiskFactor

	mismatch := false
	recent := false
	rapid := 0
	for _, rec := range existing {
		if rec.DeviceFingerprint != candidateFingerprint {
			mismatch = true
			if now.Sub(rec.LastActivityAt) < s.cfg.ActivityFreshness {
				recent = true
			}
		}
		if now.Sub(rec.StartedAt) < s.cfg.RapidCreationWindow {
			rapid++
		}
	}

	if mismatch {
		score += s.cfg.WeightFingerprintMismatch
		factors = append(factors, core.FactorFingerprintMismatch)
	}
	if recent {
		score += s.cfg.WeightRecentActivity
		factors = append(factors, core.FactorRecentActivity)
	}
	if len(existing) > s.cfg.MultiplicityThreshold {
		score += s.cfg.WeightMultipleSessions
		factors = append(factors, core.FactorMultipleSessions)
	}
	// The candidate itself counts toward the creation rate.
	if rapid+1 >= s.cfg.RapidCreationCount {
		score += s.cfg.WeightRapidCreation
		factors = append(factors, core.FactorRapidSessionCreation)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return core.CollisionAssessment{
		Score:   score,
		Level:   s.level(score),
		Factors: factors,
	}
}

func (s *Scorer) level(score float64) core.RiskLevel {
	switch {
	case score >= s.cfg.HighRiskThreshold:
		return core.RiskHigh
	case score >= s.cfg.MediumRiskThreshold:
		return core.RiskMedium
	default:
		return core.RiskLow
	}
}
