// Package journal persists Session events to SQLite so that past runs can be
// inspected after the fact: which snapshots were classified how, which solver
// tasks were submitted, which cells were tapped, and how each Session ended.
//
// Snapshot images are optionally written to a directory next to the
// database; the events table stores the file path only.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"challengeflow/internal/config"
	"challengeflow/internal/logging"
	"challengeflow/internal/orchestrator"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Journal implements orchestrator.Recorder on a SQLite database.
type Journal struct {
	db            *sql.DB
	mu            sync.Mutex
	dbPath        string
	snapshotDir   string
	keepSnapshots bool
	logger        *zap.Logger
	seq           int
}

// Open creates or opens the journal database described by cfg.
func Open(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection serialises writers; SQLite would anyway.
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:            db,
		dbPath:        cfg.DatabasePath,
		snapshotDir:   cfg.SnapshotDir,
		keepSnapshots: cfg.KeepSnapshots,
		logger:        logging.For(logger, logging.CategoryJournal),
	}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		outcome TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		kind TEXT NOT NULL,
		at TEXT NOT NULL,
		classification TEXT,
		text TEXT,
		handle TEXT,
		grid_type TEXT,
		cells_json TEXT,
		position TEXT,
		detail TEXT,
		image_path TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record stores one event. session_started and outcome events also open and
// close the session row.
func (j *Journal) Record(ctx context.Context, ev orchestrator.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	at := ev.At.UTC().Format(timeLayout)
	switch ev.Kind {
	case orchestrator.EventSessionStarted:
		if _, err := j.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
			ev.SessionID, at); err != nil {
			return fmt.Errorf("recording session start: %w", err)
		}
	case orchestrator.EventOutcome:
		if _, err := j.db.ExecContext(ctx,
			`UPDATE sessions SET finished_at = ?, outcome = ? WHERE id = ?`,
			at, ev.Detail, ev.SessionID); err != nil {
			return fmt.Errorf("recording session outcome: %w", err)
		}
	}

	var imagePath string
	if ev.Kind == orchestrator.EventSnapshot && len(ev.Image) > 0 && j.keepSnapshots && j.snapshotDir != "" {
		p, err := j.writeSnapshot(ev)
		if err != nil {
			j.logger.Warn("snapshot not kept", zap.String("session", ev.SessionID), zap.Error(err))
		} else {
			imagePath = p
		}
	}

	var cellsJSON []byte
	if len(ev.Cells) > 0 {
		cellsJSON, _ = json.Marshal(ev.Cells)
	}

	var classification string
	if ev.Kind == orchestrator.EventSnapshot {
		classification = ev.Classification.String()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (session_id, attempt, kind, at, classification, text, handle, grid_type, cells_json, position, detail, image_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Attempt, string(ev.Kind), at, classification, ev.Text,
		string(ev.Handle), ev.GridType, string(cellsJSON), ev.Position, ev.Detail, imagePath,
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", ev.Kind, err)
	}
	j.logger.Debug("event recorded", zap.String("session", ev.SessionID), zap.String("kind", string(ev.Kind)))
	return nil
}

func (j *Journal) writeSnapshot(ev orchestrator.Event) (string, error) {
	dir := filepath.Join(j.snapshotDir, ev.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	j.seq++
	name := fmt.Sprintf("%02d_%03d_%s.jpg", ev.Attempt, j.seq, ev.At.UTC().Format("150405.000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, ev.Image, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// SessionSummary is one row of List.
type SessionSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a crash
	Outcome    string
	Events     int
	Tasks      int
}

// List returns the most recent sessions, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT s.id, s.started_at, COALESCE(s.finished_at, ''), COALESCE(s.outcome, ''),
		        (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id),
		        (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id AND e.kind = ?)
		 FROM sessions s
		 ORDER BY s.started_at DESC
		 LIMIT ?`,
		string(orchestrator.EventTaskSubmitted), limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var started, finished string
		if err := rows.Scan(&s.ID, &started, &finished, &s.Outcome, &s.Events, &s.Tasks); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.StartedAt, _ = time.Parse(timeLayout, started)
		if finished != "" {
			s.FinishedAt, _ = time.Parse(timeLayout, finished)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Entry is one stored event.
type Entry struct {
	Attempt        int
	Kind           orchestrator.EventKind
	At             time.Time
	Classification string
	Text           string
	Handle         string
	GridType       string
	Cells          []int
	Position       string
	Detail         string
	ImagePath      string
}

// Events returns the events of one session in the order they were recorded.
func (j *Journal) Events(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT attempt, kind, at, COALESCE(classification, ''), COALESCE(text, ''), COALESCE(handle, ''),
		        COALESCE(grid_type, ''), COALESCE(cells_json, ''), COALESCE(position, ''),
		        COALESCE(detail, ''), COALESCE(image_path, '')
		 FROM events
		 WHERE session_id = ?
		 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, at, cells string
		if err := rows.Scan(&e.Attempt, &kind, &at, &e.Classification, &e.Text, &e.Handle,
			&e.GridType, &cells, &e.Position, &e.Detail, &e.ImagePath); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = orchestrator.EventKind(kind)
		e.At, _ = time.Parse(timeLayout, at)
		if cells != "" {
			if err := json.Unmarshal([]byte(cells), &e.Cells); err != nil {
				j.logger.Warn("malformed cells column", zap.String("session", sessionID), zap.Error(err))
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
