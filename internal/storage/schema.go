package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AuditRecord is one remote write performed through the console: a gated
// settings save, a remediation fix or the retry of an original action.
type AuditRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Tenant     string    `json:"tenant"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Args       string    `json:"args,omitempty"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

// AuditFilter selects audit records; empty fields match everything.
type AuditFilter struct {
	Tenant    string
	Action    string
	Actor     string
	SessionID string
	Since     time.Time
	Limit     int
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	auditColumns      = "id, timestamp, actor, tenant, action, target, session_id, args, result, error, duration_ms, ip_address"
)

type Storage struct {
	db *sql.DB
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) InsertAudit(ctx context.Context, r AuditRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Actor, r.Tenant, r.Action,
		r.Target, r.SessionID, r.Args, r.Result, r.Error, r.DurationMs, r.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// QueryAudit returns matching records, newest first.
func (s *Storage) QueryAudit(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.Tenant != "" {
		add("tenant = ?", f.Tenant)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Actor != "" {
		add("actor = ?", f.Actor)
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if !f.Since.IsZero() {
		add("timestamp >= ?", f.Since.UTC().Format(time.RFC3339Nano))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	query := "SELECT " + auditColumns + " FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0)
	for rows.Next() {
		var r AuditRecord
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Actor, &r.Tenant, &r.Action, &r.Target, &r.SessionID,
			&r.Args, &r.Result, &r.Error, &r.DurationMs, &r.IPAddress); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PurgeAuditOlderThan deletes records older than retention and reports how
// many were removed.
func (s *Storage) PurgeAuditOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit log: %w", err)
	}
	return result.RowsAffected()
}
