package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// Store is the persistent incident repository. Every write is a
// read-modify-write inside one SQLite transaction.
type Store struct {
	db  *store.Store
	now func() time.Time
}

// NewStore binds the repository to an opened state database.
func NewStore(db *store.Store) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the time source used for last_updated and entries.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func newRecord(id string, at time.Time) *Record {
	return &Record{
		ID:          id,
		Phase:       PhaseIdle,
		Context:     NewContext(),
		LastUpdated: at.UTC(),
	}
}

// Init creates an IDLE record for id when none exists and returns the current record.
func (s *Store) Init(ctx context.Context, id string) (*Record, error) {
	var out *Record
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rec, err := getTx(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			rec = newRecord(id, s.now())
			if err := putTx(ctx, tx, rec); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT id, phase, active_stage, context_json, retry_count, last_updated
		FROM incidents WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return rec, nil
}

// List returns all records ordered by id.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, phase, active_stage, context_json, retry_count, last_updated
		FROM incidents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return records, nil
}

// Update applies fn to the current record inside a transaction. A missing
// record is created as IDLE first. last_updated is always refreshed.
func (s *Store) Update(ctx context.Context, id string, fn func(rec *Record, at time.Time) error) (*Change, error) {
	var change *Change
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		at := s.now().UTC()
		var before *Record
		rec, err := getTx(ctx, tx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			rec = newRecord(id, at)
		case err != nil:
			return err
		default:
			snapshot := rec.Clone()
			before = &snapshot
		}

		if err := fn(rec, at); err != nil {
			return err
		}
		rec.LastUpdated = at
		if err := putTx(ctx, tx, rec); err != nil {
			return err
		}
		change = &Change{Before: before, After: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// Reset returns an existing record to IDLE with an empty context and no retries.
func (s *Store) Reset(ctx context.Context, id string) (*Change, error) {
	return s.Update(ctx, id, func(rec *Record, at time.Time) error {
		*rec = *newRecord(id, at)
		return nil
	})
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (*Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, phase, active_stage, context_json, retry_count, last_updated
		FROM incidents WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read incident: %w", err)
	}
	return rec, nil
}

func putTx(ctx context.Context, tx *sql.Tx, rec *Record) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (id, phase, active_stage, context_json, retry_count, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			active_stage = excluded.active_stage,
			context_json = excluded.context_json,
			retry_count = excluded.retry_count,
			last_updated = excluded.last_updated
	`, rec.ID, string(rec.Phase), nullString(rec.ActiveStage), string(contextJSON), rec.RetryCount, store.FormatTime(rec.LastUpdated))
	if err != nil {
		return fmt.Errorf("write incident: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var phase, contextJSON, lastUpdated string
	var activeStage sql.NullString
	if err := row.Scan(&rec.ID, &phase, &activeStage, &contextJSON, &rec.RetryCount, &lastUpdated); err != nil {
		return nil, err
	}
	rec.Phase = Phase(phase)
	rec.ActiveStage = activeStage.String
	rec.LastUpdated = store.ParseTime(lastUpdated)
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("decode context for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Trigger moves id to AT_RISK with a fresh retry budget and starts a new
// pass. extra is merged into the context under the "Trigger" stage.
func (s *Store) Trigger(ctx context.Context, id string, extra map[string]any) (*Change, error) {
	return s.Update(ctx, id, func(rec *Record, at time.Time) error {
		values := make(map[string]any, len(extra)+1)
		for k, v := range extra {
			values[k] = v
		}
		if _, ok := values[KeyTrigger]; !ok {
			values[KeyTrigger] = map[string]any{"incident_id": id, "triggered_at": at.Format(time.RFC3339Nano)}
		}
		return Mutation{
			Phase:          PhaseAtRisk,
			Stage:          TriggerStage,
			SetActiveStage: true,
			Context:        values,
			ResetRetry:     true,
		}.Apply(rec, at)
	})
}
