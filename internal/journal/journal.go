// Package journal persists task submissions and their outcomes in SQLite
// so tasks lost to a disconnect or a crashed process remain visible.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"

	"github.com/opencli/opencli/internal/stream"
)

// Store owns the journal database. Each Store registers its own session
// with the owning pid; rows of sessions that closed or whose process is
// gone are considered stale.
type Store struct {
	db        *sql.DB
	path      string
	sessionID string
	pid       int
}

// processAlive reports whether pid still names a running process.
var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Row is one journaled task.
type Row struct {
	ClientTaskID  string
	TaskID        string
	SynthesizedID string
	TaskType      string
	TaskData      map[string]any
	Status        stream.Status
	Result        map[string]any
	Error         string
	SubmittedAt   time.Time
	ResolvedAt    time.Time
	SessionID     string
}

// Open opens (creating if needed) the journal at path. Call Init before use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path, sessionID: uuid.NewString(), pid: os.Getpid()}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SessionID identifies rows written through this Store.
func (s *Store) SessionID() string { return s.sessionID }

// Close unregisters the session and releases database resources. Rows
// the session left unresolved become stale for later processes.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, _ = s.db.Exec(`DELETE FROM sessions WHERE session_id = ?;`, s.sessionID)
	return s.db.Close()
}

// Init applies pragmas and schema.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS tasks (
			client_task_id TEXT PRIMARY KEY,
			task_id TEXT,
			synthesized_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			task_data TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			submitted_at INTEGER NOT NULL,
			resolved_at INTEGER,
			session_id TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_task_id ON tasks(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_unresolved ON tasks(resolved_at, submitted_at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			started_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions(session_id, pid, started_at) VALUES (?, ?, ?);
	`, s.sessionID, s.pid, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	return nil
}

// RecordSubmitted inserts a new submission. Re-recording the same client
// id is a no-op.
func (s *Store) RecordSubmitted(ctx context.Context, sub stream.Submission) error {
	data, err := encodeMap(sub.TaskData)
	if err != nil {
		return fmt.Errorf("encode task_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tasks(client_task_id, synthesized_id, task_type, task_data, status, submitted_at, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, sub.ClientTaskID, sub.SynthesizedID, sub.TaskType, data, string(stream.StatusSubmitted), sub.SubmittedAt.UnixMilli(), s.sessionID)
	return err
}

// RecordAck stores the server-assigned id.
func (s *Store) RecordAck(ctx context.Context, clientTaskID, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET task_id = ? WHERE client_task_id = ?;`, taskID, clientTaskID)
	return err
}

// RecordOutcome stores the first outcome for a task; later calls for an
// already resolved task change nothing.
func (s *Store) RecordOutcome(ctx context.Context, clientTaskID string, status stream.Status, result map[string]any, errText string, at time.Time) error {
	var res any
	if result != nil {
		encoded, err := encodeMap(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		res = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, resolved_at = ?
		WHERE client_task_id = ? AND resolved_at IS NULL;
	`, string(status), res, nullable(errText), at.UnixMilli(), clientTaskID)
	return err
}

// MarkOrphaned flags unresolved tasks as orphaned. They stay unresolved
// and keep appearing in Pending.
func (s *Store) MarkOrphaned(ctx context.Context, clientTaskIDs []string) error {
	if len(clientTaskIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(clientTaskIDs)+1)
	args = append(args, string(stream.StatusOrphaned))
	for _, id := range clientTaskIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clientTaskIDs)), ",")
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?
		WHERE resolved_at IS NULL AND client_task_id IN (`+placeholders+`);
	`, args...)
	return err
}

// OrphanStale marks unresolved rows of dead sessions as orphaned and
// returns how many changed. A session is dead when it closed, never
// registered, or its process no longer runs. Rows of other live
// processes are left alone.
func (s *Store) OrphanStale(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.session_id, s.pid
		FROM tasks t LEFT JOIN sessions s ON s.session_id = t.session_id
		WHERE t.resolved_at IS NULL AND t.status != ? AND t.session_id != ?;
	`, string(stream.StatusOrphaned), s.sessionID)
	if err != nil {
		return 0, err
	}
	var dead []string
	for rows.Next() {
		var (
			id  string
			pid sql.NullInt64
		)
		if err := rows.Scan(&id, &pid); err != nil {
			rows.Close()
			return 0, err
		}
		if !pid.Valid || !processAlive(int(pid.Int64)) {
			dead = append(dead, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(dead) == 0 {
		return 0, nil
	}

	ids := make([]any, 0, len(dead))
	for _, id := range dead {
		ids = append(ids, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dead)), ",")
	args := append([]any{string(stream.StatusOrphaned), string(stream.StatusOrphaned)}, ids...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?
		WHERE resolved_at IS NULL AND status != ? AND session_id IN (`+placeholders+`);
	`, args...)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (`+placeholders+`);`, ids...); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Pending lists unresolved tasks, oldest first.
func (s *Store) Pending(ctx context.Context) ([]Row, error) {
	return s.query(ctx, `WHERE resolved_at IS NULL ORDER BY submitted_at, client_task_id`)
}

// Get returns one task.
func (s *Store) Get(ctx context.Context, clientTaskID string) (Row, error) {
	rows, err := s.query(ctx, `WHERE client_task_id = ?`, clientTaskID)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, fmt.Errorf("task %q: %w", clientTaskID, sql.ErrNoRows)
	}
	return rows[0], nil
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_task_id, task_id, synthesized_id, task_type, task_data, status, result, error, submitted_at, resolved_at, session_id
		FROM tasks `+where+`;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                       Row
			taskID, result, errText sql.NullString
			data, status            string
			submitted               int64
			resolved                sql.NullInt64
		)
		if err := rows.Scan(&r.ClientTaskID, &taskID, &r.SynthesizedID, &r.TaskType, &data, &status, &result, &errText, &submitted, &resolved, &r.SessionID); err != nil {
			return nil, err
		}
		r.TaskID = taskID.String
		r.Status = stream.Status(status)
		r.Error = errText.String
		r.SubmittedAt = time.UnixMilli(submitted)
		if resolved.Valid {
			r.ResolvedAt = time.UnixMilli(resolved.Int64)
		}
		if r.TaskData, err = decodeMap(data); err != nil {
			return nil, fmt.Errorf("decode task_data for %s: %w", r.ClientTaskID, err)
		}
		if result.Valid {
			if r.Result, err = decodeMap(result.String); err != nil {
				return nil, fmt.Errorf("decode result for %s: %w", r.ClientTaskID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMap(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
