// Package storage provides the append-only durable audit trail for
// security alerts and compliance evidence. Writes are asynchronous and
// fire-and-forget: persistence failures are logged and counted, never
// propagated to the request path.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"bastion/core"
	"bastion/metrics"
	"bastion/util/goroutine"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Config holds audit store configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	SQLitePath string `mapstructure:"sqlite_path"`
	QueueSize  int    `mapstructure:"queue_size"`
}

const schema = `
CREATE TABLE IF NOT EXISTS security_alerts (
	alert_id    TEXT PRIMARY KEY,
	threat_type TEXT NOT NULL,
	severity    TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	payload     BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS evidence_records (
	record_id  TEXT PRIMARY KEY,
	framework  TEXT NOT NULL,
	category   TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON security_alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_evidence_framework_created ON evidence_records(framework, created_at);
`

type entryKind int

const (
	entryAlert entryKind = iota
	entryEvidence
)

type auditEntry struct {
	kind      entryKind
	id        string
	labelA    string // threat type or framework
	labelB    string // severity or category
	refID     string // event id for evidence
	createdAt time.Time
	payload   []byte
}

// AuditStore persists alerts and evidence records to SQLite through a
// buffered writer goroutine.
type AuditStore struct {
	db     *sql.DB
	queue  chan auditEntry
	logger *zap.SugaredLogger
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// Open creates or opens the audit database and starts the writer.
func Open(cfg Config, logger *zap.SugaredLogger) (*AuditStore, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("%w: storage sqlite_path is required", core.ErrConfigurationInvalid)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	s := &AuditStore{
		db:     db,
		queue:  make(chan auditEntry, cfg.QueueSize),
		logger: logger,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// SaveAlert queues an alert for the durable trail. Never blocks; when
// the queue is full the write is dropped and counted.
func (s *AuditStore) SaveAlert(alert *core.SecurityAlert) {
	if alert == nil {
		return
	}
	payload, err := msgpack.Marshal(alert)
	if err != nil {
		s.fail("encode alert", err)
		return
	}
	s.enqueue(auditEntry{
		kind:      entryAlert,
		id:        alert.AlertID,
		labelA:    alert.ThreatType,
		labelB:    alert.Severity,
		createdAt: alert.Timestamp,
		payload:   payload,
	})
}

// SaveEvidence queues an evidence record for the durable trail.
func (s *AuditStore) SaveEvidence(rec core.EvidenceRecord) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		s.fail("encode evidence", err)
		return
	}
	s.enqueue(auditEntry{
		kind:      entryEvidence,
		id:        rec.RecordID,
		labelA:    string(rec.Framework),
		labelB:    rec.Category,
		refID:     rec.EventID,
		createdAt: rec.Timestamp,
		payload:   payload,
	})
}

func (s *AuditStore) enqueue(e auditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.fail("audit queue full", nil)
	}
}

func (s *AuditStore) fail(op string, err error) {
	metrics.AuditWriteFailures.Inc()
	if err != nil {
		s.logger.Warnw("audit write failed", "op", op, "error", err)
	} else {
		s.logger.Warnw("audit write failed", "op", op)
	}
}

func (s *AuditStore) writeLoop() {
	defer s.wg.Done()
	defer goroutine.Recover("audit-writer", s.logger)

	for e := range s.queue {
		var err error
		switch e.kind {
		case entryAlert:
			_, err = s.db.Exec(
				`INSERT OR IGNORE INTO security_alerts (alert_id, threat_type, severity, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
				e.id, e.labelA, e.labelB, e.createdAt.UnixNano(), e.payload)
		case entryEvidence:
			_, err = s.db.Exec(
				`INSERT OR IGNORE INTO evidence_records (record_id, framework, category, event_id, created_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
				e.id, e.labelA, e.labelB, e.refID, e.createdAt.UnixNano(), e.payload)
		}
		if err != nil {
			s.fail("insert", err)
		}
	}
}

// EvidenceBetween loads evidence for a framework in [start, end].
func (s *AuditStore) EvidenceBetween(ctx context.Context, framework core.Framework, start, end time.Time) ([]core.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM evidence_records WHERE framework = ? AND created_at >= ? AND created_at <= ? ORDER BY created_at`,
		string(framework), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var out []core.EvidenceRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec core.EvidenceRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AlertsBetween loads alerts recorded in [start, end].
func (s *AuditStore) AlertsBetween(ctx context.Context, start, end time.Time) ([]core.SecurityAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM security_alerts WHERE created_at >= ? AND created_at <= ? ORDER BY created_at`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []core.SecurityAlert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var alert core.SecurityAlert
		if err := msgpack.Unmarshal(payload, &alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// Close drains pending writes and closes the database.
func (s *AuditStore) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
