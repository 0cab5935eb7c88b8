package session

import (
	"context"
	"sync"
	"time"

	"bastion/core"
	"bastion/util/goroutine"

	"go.uber.org/zap"
)

// RegistryConfig tunes session retention and cleanup.
type RegistryConfig struct {
	// Retention is how long inactive or stale records are kept before
	// garbage collection.
	Retention time.Duration
	// GCInterval is the background cleanup cadence.
	GCInterval time.Duration
}

// DefaultRegistryConfig returns the retention defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{Retention: 24 * time.Hour, GCInterval: 5 * time.Minute}
}

// Registry tracks active sessions per subject. Mutations for a subject
// are serialized under the registry mutex; reads return copies so
// callers never observe concurrent mutation.
type Registry struct {
	cfg    RegistryConfig
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[string][]*core.SessionRecord

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// NewRegistry creates a registry and starts its cleanup goroutine.
func NewRegistry(cfg RegistryConfig, logger *zap.SugaredLogger) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string][]*core.SessionRecord),
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.gcCancel = cancel
	r.gcWg.Add(1)
	go r.gcLoop(ctx)

	return r
}

// Register adds a session for the subject, or refreshes activity if the
// session is already known.
func (r *Registry) Register(subjectID, sessionID, fingerprint string, monitored bool) *core.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range r.sessions[subjectID] {
		if rec.SessionID == sessionID {
			rec.LastActivityAt = now
			rec.Active = true
			if monitored {
				rec.Monitored = true
			}
			cp := *rec
			return &cp
		}
	}

	rec := &core.SessionRecord{
		SessionID:         sessionID,
		SubjectID:         subjectID,
		DeviceFingerprint: fingerprint,
		StartedAt:         now,
		LastActivityAt:    now,
		Active:            true,
		Monitored:         monitored,
	}
	r.sessions[subjectID] = append(r.sessions[subjectID], rec)
	cp := *rec
	return &cp
}

// ActiveSessions returns copies of the subject's active session records.
func (r *Registry) ActiveSessions(subjectID string) []core.SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.SessionRecord
	for _, rec := range r.sessions[subjectID] {
		if rec.Active {
			out = append(out, *rec)
		}
	}
	return out
}

// Touch refreshes the activity timestamp of a session.
func (r *Registry) Touch(subjectID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.sessions[subjectID] {
		if rec.SessionID == sessionID && rec.Active {
			rec.LastActivityAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// InvalidateAll marks every active session of the subject inactive,
// optionally sparing one session. Records are kept for the retention
// window; invalidating twice yields the same end state.
func (r *Registry) InvalidateAll(subjectID, spareSessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	invalidated := 0
	for _, rec := range r.sessions[subjectID] {
		if !rec.Active || rec.SessionID == spareSessionID {
			continue
		}
		rec.Active = false
		rec.LastActivityAt = time.Now().UTC()
		invalidated++
	}
	return invalidated
}

// Stats reports subject and session counts for the operational API.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	total := 0
	for _, recs := range r.sessions {
		total += len(recs)
		for _, rec := range recs {
			if rec.Active {
				active++
			}
		}
	}
	return map[string]interface{}{
		"subjects":        len(r.sessions),
		"active_sessions": active,
		"total_sessions":  total,
	}
}

// Stop terminates the cleanup goroutine.
func (r *Registry) Stop() {
	r.gcCancel()
	r.gcWg.Wait()
}

func (r *Registry) gcLoop(ctx context.Context) {
	defer r.gcWg.Done()
	defer goroutine.Recover("session-registry-gc", r.logger)

	ticker := time.NewTicker(r.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.collect()
		case <-ctx.Done():
			return
		}
	}
}

// collect removes records observably idle past the retention window.
// In-flight checks are unaffected: they hold copies, never references.
func (r *Registry) collect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-r.cfg.Retention)
	removed := 0
	for subjectID, recs := range r.sessions {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.LastActivityAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(r.sessions, subjectID)
		} else {
			r.sessions[subjectID] = kept
		}
	}
	if removed > 0 {
		r.logger.Debugw("session registry cleanup", "removed", removed)
	}
}
