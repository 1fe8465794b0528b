package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

const defaultAuditPath = "audit/audit.sqlite"

// Logger writes audit events to a specific SQLite DB path.
type Logger struct {
	DBPath string
}

// NewLogger returns a Logger bound to the provided DB path.
func NewLogger(dbPath string) *Logger {
	return &Logger{DBPath: dbPath}
}

// Entry is one stored audit event.
type Entry struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Actor      string          `json:"actor"`
	Type       string          `json:"type"`
	IncidentID string          `json:"incident_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// LogEvent writes an audit event to the configured SQLite-backed log.
func (l *Logger) LogEvent(actor, eventType, incidentID string, payload any) error {
	dbPath, err := l.resolve()
	if err != nil {
		return err
	}
	db, err := openDB(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.Exec(
		"INSERT INTO events (ts, actor, type, incident_id, payload_json) VALUES (?, ?, ?, ?, ?)",
		store.FormatTime(time.Now()),
		actor,
		eventType,
		incidentID,
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first. An empty incidentID
// matches every incident; limit <= 0 means 100.
func (l *Logger) List(ctx context.Context, incidentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	dbPath, err := l.resolve()
	if err != nil {
		return nil, err
	}
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, actor, type, incident_id, payload_json FROM events
		WHERE ? = '' OR incident_id = ?
		ORDER BY id DESC LIMIT ?
	`, incidentID, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, payload string
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Type, &e.IncidentID, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp = store.ParseTime(ts)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

// Sink records scheduler lifecycle events. stage_log events are left to the
// process log.
func (l *Logger) Sink() events.Sink {
	return events.SinkFunc(func(_ context.Context, ev events.Event) error {
		if ev.Type == events.StageLog {
			return nil
		}
		actor := ev.Stage
		if actor == "" {
			actor = "scheduler"
		}
		return l.LogEvent(actor, string(ev.Type), ev.IncidentID, ev)
	})
}

func (l *Logger) resolve() (string, error) {
	dbPath := ""
	if l != nil {
		dbPath = l.DBPath
	}
	if dbPath == "" {
		dbPath = os.Getenv("VANGUARD_AUDIT_DB")
	}
	if dbPath == "" {
		dbPath = defaultAuditPath
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure audit db dir: %w", err)
	}
	return absPath, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure audit db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			incident_id TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_incident ON events(incident_id, id);
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}
