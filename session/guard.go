package session

import (
	"time"

	"bastion/core"
	"bastion/metrics"

	"go.uber.org/zap"
)

// Assessor computes collision risk. The concrete Scorer is used in
// production; tests inject deterministic substitutes.
type Assessor interface {
	Assess(candidateFingerprint string, existing []core.SessionRecord) core.CollisionAssessment
}

// ActionForceLogout tells the caller every prior session was terminated
// and re-authentication is required.
const ActionForceLogout = "force_logout"

// Guard arbitrates new sessions: it looks up the subject's active
// sessions, scores fingerprint collisions, and approves, monitors, or
// rejects the candidate. Every decision emits a security event.
type Guard struct {
	registry *Registry
	assessor Assessor
	sink     core.EventSink
	logger   *zap.SugaredLogger
}

// NewGuard creates a session guard. The sink is optional.
func NewGuard(registry *Registry, assessor Assessor, sink core.EventSink, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{registry: registry, assessor: assessor, sink: sink, logger: logger}
}

// Validate runs the session state machine for a candidate
// (subject, session, fingerprint) triple. If the registry is
// unavailable the guard fails closed: the session is rejected rather
// than silently admitted.
func (g *Guard) Validate(subjectID, sessionID, fingerprint string) core.SessionDecision {
	start := time.Now()
	defer func() {
		metrics.CheckDuration.WithLabelValues("session_validate").Observe(time.Since(start).Seconds())
	}()

	if g.registry == nil {
		g.logger.Errorw("session registry unavailable, rejecting session",
			"subject_id", subjectID, "session_id", sessionID)
		metrics.SessionDecisions.WithLabelValues(string(core.SessionRejected)).Inc()
		return core.SessionDecision{
			Status:    core.SessionRejected,
			SessionID: sessionID,
			Reason:    "session state unavailable, re-authentication required",
		}
	}

	existing := g.registry.ActiveSessions(subjectID)
	if !g.hasCollision(fingerprint, existing) {
		g.registry.Register(subjectID, sessionID, fingerprint, false)
		g.emit(core.EventSessionCreated, subjectID, sessionID, nil)
		metrics.SessionDecisions.WithLabelValues(string(core.SessionValid)).Inc()
		return core.SessionDecision{Status: core.SessionValid, SessionID: sessionID}
	}

	assessment := g.assessor.Assess(fingerprint, existing)
	switch assessment.Level {
	case core.RiskHigh:
		invalidated := g.registry.InvalidateAll(subjectID, "")
		metrics.SessionsInvalidated.Add(float64(invalidated))
		g.emit(core.EventSessionCollisionHig, subjectID, sessionID, &assessment)
		metrics.SessionDecisions.WithLabelValues(string(core.SessionRejected)).Inc()
		g.logger.Warnw("high-risk session collision, all sessions invalidated",
			"subject_id", subjectID, "invalidated", invalidated)
		return core.SessionDecision{
			Status:    core.SessionRejected,
			SessionID: sessionID,
			Action:    ActionForceLogout,
			Reason:    "re-authentication required",
		}

	case core.RiskMedium:
		g.registry.Register(subjectID, sessionID, fingerprint, true)
		g.emit(core.EventSessionCollisionMed, subjectID, sessionID, &assessment)
		metrics.SessionDecisions.WithLabelValues(string(core.SessionMonitored)).Inc()
		return core.SessionDecision{Status: core.SessionMonitored, SessionID: sessionID}

	default:
		g.registry.Register(subjectID, sessionID, fingerprint, false)
		g.emit(core.EventSessionCollisionLow, subjectID, sessionID, &assessment)
		metrics.SessionDecisions.WithLabelValues(string(core.SessionValid)).Inc()
		return core.SessionDecision{Status: core.SessionValid, SessionID: sessionID}
	}
}

// hasCollision reports whether any existing active session carries a
// differing fingerprint with activity inside the freshness threshold.
// Freshness is the assessor's concern for scoring; the presence check
// here only needs a differing fingerprint on a live session.
func (g *Guard) hasCollision(fingerprint string, existing []core.SessionRecord) bool {
	for _, rec := range existing {
		if rec.DeviceFingerprint != fingerprint {
			return true
		}
	}
	return false
}

func (g *Guard) emit(eventType, subjectID, sessionID string, assessment *core.CollisionAssessment) {
	if g.sink == nil {
		return
	}
	ev := core.NewSecurityEvent(eventType)
	ev.SubjectID = subjectID
	ev.SessionID = sessionID
	if assessment != nil {
		factors := make([]string, 0, len(assessment.Factors))
		for _, f := range assessment.Factors {
			factors = append(factors, string(f))
		}
		ev.Fields["risk_level"] = string(assessment.Level)
		ev.Fields["risk_factors"] = factors
	}
	g.sink.Submit(ev)
}
