package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// ErrNotFound is returned when no record matches an incident log id.
var ErrNotFound = errors.New("decision record not found")

// Log is the append-only decision log backed by SQLite.
type Log struct {
	DBPath string
	db     *sql.DB
}

// Open opens or creates the decision log at dbPath.
func Open(dbPath string) (*Log, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolve decision db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure decision db dir: %w", err)
	}
	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open decision db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure decision db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{DBPath: absPath, db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			shipment_id TEXT NOT NULL,
			incident_reality TEXT NOT NULL,
			guardrail_result TEXT NOT NULL,
			decision_outcome TEXT NOT NULL,
			system_action TEXT NOT NULL,
			confidence REAL NOT NULL,
			elapsed_seconds INTEGER NOT NULL,
			record_json TEXT NOT NULL,
			digest TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_shipment ON decisions(shipment_id, ts);
		CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(decision_outcome, ts);
	`)
	if err != nil {
		return fmt.Errorf("create decision schema: %w", err)
	}
	return nil
}

// Append writes rec and fills in its sequence number and digest.
func (l *Log) Append(ctx context.Context, rec *Record) error {
	digest, data, err := ComputeDigest(rec)
	if err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions (incident_id, ts, shipment_id, incident_reality, guardrail_result,
			decision_outcome, system_action, confidence, elapsed_seconds, record_json, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.IncidentID, store.FormatTime(rec.Timestamp), rec.ShipmentID,
		string(rec.Reality), string(rec.Guardrail), string(rec.Outcome),
		rec.SystemAction, rec.Confidence, rec.ElapsedSeconds, string(data), digest)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("decision record id: %w", err)
	}
	rec.Seq = seq
	rec.Digest = digest
	return nil
}

// Record builds and appends one decision record.
func (l *Log) Record(ctx context.Context, in Input) (*Record, error) {
	rec, err := Build(in)
	if err != nil {
		return nil, err
	}
	if err := l.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentIntervention returns the newest INTERVENTION_EXECUTED record logged
// at or after since for shipmentID, matching either the recorded shipment id
// or a substring of the incident log id.
func (l *Log) RecentIntervention(ctx context.Context, shipmentID string, since time.Time) (string, bool, error) {
	var incidentID string
	err := l.db.QueryRowContext(ctx, `
		SELECT incident_id FROM decisions
		WHERE decision_outcome = ? AND ts >= ?
			AND (shipment_id = ? OR instr(incident_id, ?) > 0)
		ORDER BY seq DESC LIMIT 1
	`, string(InterventionExecuted), store.FormatTime(since), shipmentID, shipmentID).Scan(&incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query recent interventions: %w", err)
	}
	return incidentID, true, nil
}

// Filter narrows List.
type Filter struct {
	ShipmentID string
	Outcome    Outcome
	Limit      int
}

// List returns records newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Record, error) {
	query := "SELECT seq, record_json, digest FROM decisions WHERE 1 = 1"
	var args []any
	if f.ShipmentID != "" {
		query += " AND shipment_id = ?"
		args = append(args, f.ShipmentID)
	}
	if f.Outcome != "" {
		query += " AND decision_outcome = ?"
		args = append(args, string(f.Outcome))
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns the newest record with the given incident log id.
func (l *Log) Get(ctx context.Context, incidentID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT seq, record_json, digest FROM decisions WHERE incident_id = ? ORDER BY seq DESC LIMIT 1", incidentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	return rec, err
}

// Count returns how many records exist for shipmentID. An empty id counts
// every record.
func (l *Log) Count(ctx context.Context, shipmentID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM decisions WHERE ? = '' OR shipment_id = ?", shipmentID, shipmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var seq int64
	var data, digest string
	if err := row.Scan(&seq, &data, &digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode decision %d: %w", seq, err)
	}
	rec.Seq = seq
	rec.Digest = digest
	return &rec, nil
}
