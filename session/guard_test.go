package session

import (
	"sync"
	"testing"

	"bastion/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixedAssessor returns a canned assessment regardless of input.
type fixedAssessor struct {
	assessment core.CollisionAssessment
}

func (f fixedAssessor) Assess(string, []core.SessionRecord) core.CollisionAssessment {
	return f.assessment
}

// recordingSink captures emitted security events.
type recordingSink struct {
	mu     sync.Mutex
	events []*core.SecurityEvent
}

func (s *recordingSink) Submit(event *core.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType)
	}
	return out
}

func guardWith(t *testing.T, assessor Assessor, sink core.EventSink) (*Guard, *Registry) {
	t.Helper()
	registry := testRegistry(t)
	return NewGuard(registry, assessor, sink, zap.NewNop().Sugar()), registry
}

// TestGuard_FirstSessionIsValid verifies a collision-free candidate is
// registered and approved with a SESSION_CREATED event.
func TestGuard_FirstSessionIsValid(t *testing.T) {
	sink := &recordingSink{}
	scorer, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
	guard, registry := guardWith(t, scorer, sink)

	decision := guard.Validate("alice", "s1", "fp-1")
	assert.Equal(t, core.SessionValid, decision.Status)
	assert.Empty(t, decision.Action)
	assert.Len(t, registry.ActiveSessions("alice"), 1)
	assert.Equal(t, []string{core.EventSessionCreated}, sink.Types())
}

// TestGuard_SameDeviceReconnectIsValid verifies a matching fingerprint
// never counts as a collision.
func TestGuard_SameDeviceReconnectIsValid(t *testing.T) {
	scorer, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
	guard, registry := guardWith(t, scorer, nil)

	require.Equal(t, core.SessionValid, guard.Validate("alice", "s1", "fp-1").Status)
	decision := guard.Validate("alice", "s2", "fp-1")
	assert.Equal(t, core.SessionValid, decision.Status)
	assert.Len(t, registry.ActiveSessions("alice"), 2)
}

// TestGuard_HighRiskCollisionForcesLogout verifies the high-risk path:
// every prior session is invalidated, the candidate is rejected with
// force_logout, and a high-severity collision event is emitted.
func TestGuard_HighRiskCollisionForcesLogout(t *testing.T) {
	sink := &recordingSink{}
	assessor := fixedAssessor{assessment: core.CollisionAssessment{
		Score:   90,
		Level:   core.RiskHigh,
		Factors: []core.RiskFactor{core.FactorFingerprintMismatch, core.FactorRecentActivity},
	}}
	guard, registry := guardWith(t, assessor, sink)

	registry.Register("alice", "s1", "fp-old", false)

	decision := guard.Validate("alice", "s2", "fp-new")
	assert.Equal(t, core.SessionRejected, decision.Status)
	assert.Equal(t, ActionForceLogout, decision.Action)
	assert.NotEmpty(t, decision.Reason)

	assert.Empty(t, registry.ActiveSessions("alice"), "all prior sessions invalidated")
	assert.Contains(t, sink.Types(), core.EventSessionCollisionHig)

	// The decision is idempotent from the registry's point of view:
	// a retry finds no live sessions and proceeds as a fresh login.
	retry := guard.Validate("alice", "s3", "fp-new")
	assert.Equal(t, core.SessionValid, retry.Status)
}

// TestGuard_MediumRiskCollisionIsMonitored verifies the monitored path
// admits the session flagged for observation.
func TestGuard_MediumRiskCollisionIsMonitored(t *testing.T) {
	sink := &recordingSink{}
	assessor := fixedAssessor{assessment: core.CollisionAssessment{
		Score: 60, Level: core.RiskMedium,
		Factors: []core.RiskFactor{core.FactorFingerprintMismatch},
	}}
	guard, registry := guardWith(t, assessor, sink)

	registry.Register("alice", "s1", "fp-old", false)

	decision := guard.Validate("alice", "s2", "fp-new")
	assert.Equal(t, core.SessionMonitored, decision.Status)

	sessions := registry.ActiveSessions("alice")
	require.Len(t, sessions, 2, "prior session stays active")
	for _, rec := range sessions {
		if rec.SessionID == "s2" {
			assert.True(t, rec.Monitored)
		}
	}
	assert.Contains(t, sink.Types(), core.EventSessionCollisionMed)
}

// TestGuard_LowRiskCollisionIsValid verifies low-risk collisions admit
// the session and still emit an event for the audit trail.
func TestGuard_LowRiskCollisionIsValid(t *testing.T) {
	sink := &recordingSink{}
	assessor := fixedAssessor{assessment: core.CollisionAssessment{
		Score: 40, Level: core.RiskLow,
		Factors: []core.RiskFactor{core.FactorFingerprintMismatch},
	}}
	guard, registry := guardWith(t, assessor, sink)

	registry.Register("alice", "s1", "fp-old", false)

	decision := guard.Validate("alice", "s2", "fp-new")
	assert.Equal(t, core.SessionValid, decision.Status)
	assert.Len(t, registry.ActiveSessions("alice"), 2)
	assert.Contains(t, sink.Types(), core.EventSessionCollisionLow)
}

// TestGuard_FailsClosedWithoutRegistry verifies an unavailable registry
// rejects the session instead of silently admitting it.
func TestGuard_FailsClosedWithoutRegistry(t *testing.T) {
	scorer, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
	guard := NewGuard(nil, scorer, nil, zap.NewNop().Sugar())

	decision := guard.Validate("alice", "s1", "fp-1")
	assert.Equal(t, core.SessionRejected, decision.Status)
	assert.NotEmpty(t, decision.Reason)
	assert.Empty(t, decision.Action, "no sessions exist to force out")
}

// TestGuard_CollisionEventCarriesRiskFields verifies risk level and
// factors travel on the emitted event for downstream correlation.
func TestGuard_CollisionEventCarriesRiskFields(t *testing.T) {
	sink := &recordingSink{}
	assessor := fixedAssessor{assessment: core.CollisionAssessment{
		Score: 90, Level: core.RiskHigh,
		Factors: []core.RiskFactor{core.FactorFingerprintMismatch},
	}}
	guard, registry := guardWith(t, assessor, sink)
	registry.Register("alice", "s1", "fp-old", false)

	guard.Validate("alice", "s2", "fp-new")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "alice", ev.SubjectID)
	assert.Equal(t, "s2", ev.SessionID)
	assert.Equal(t, string(core.RiskHigh), ev.Fields["risk_level"])
	assert.Equal(t, []string{string(core.FactorFingerprintMismatch)}, ev.Fields["risk_factors"])
}
