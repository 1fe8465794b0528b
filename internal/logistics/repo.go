package logistics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// ErrUnknownShipment is returned when a shipment id has no record.
var ErrUnknownShipment = errors.New("unknown shipment")

const signalsKey = "monitored_signals"

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository reads and writes shipments, suppliers, the budget and signals.
type Repository struct {
	db *store.Store
}

// NewRepository binds the repository to an opened state database.
func NewRepository(db *store.Store) *Repository {
	return &Repository{db: db}
}

// Store returns the backing state database.
func (r *Repository) Store() *store.Store {
	return r.db
}

// Shipment returns one shipment.
func (r *Repository) Shipment(ctx context.Context, id string) (*Shipment, error) {
	return ShipmentQ(ctx, r.db.DB(), id)
}

// ShipmentQ reads a shipment through q so ledger code can stay inside its transaction.
func ShipmentQ(ctx context.Context, q Querier, id string) (*Shipment, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data_json FROM shipments WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShipment, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read shipment: %w", err)
	}
	var s Shipment
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode shipment %s: %w", id, err)
	}
	return &s, nil
}

// Shipments lists every shipment ordered by id.
func (r *Repository) Shipments(ctx context.Context) ([]Shipment, error) {
	rows, err := r.db.DB().QueryContext(ctx, "SELECT data_json FROM shipments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	defer rows.Close()

	var out []Shipment
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		var s Shipment
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decode shipment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutShipment inserts or replaces a shipment.
func (r *Repository) PutShipment(ctx context.Context, s Shipment) error {
	return PutShipmentQ(ctx, r.db.DB(), s, time.Now())
}

// PutShipmentQ writes a shipment through q.
func PutShipmentQ(ctx context.Context, q Querier, s Shipment, at time.Time) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal shipment: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO shipments (id, data_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data_json = excluded.data_json, updated_at = excluded.updated_at
	`, s.ID, string(data), store.FormatTime(at))
	if err != nil {
		return fmt.Errorf("write shipment %s: %w", s.ID, err)
	}
	return nil
}

// Supplier returns one supplier, or nil when it is unknown.
func (r *Repository) Supplier(ctx context.Context, id string) (*Supplier, error) {
	var data string
	err := r.db.DB().QueryRowContext(ctx, "SELECT data_json FROM suppliers WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read supplier: %w", err)
	}
	var s Supplier
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode supplier %s: %w", id, err)
	}
	return &s, nil
}

// Suppliers lists every supplier ordered by id.
func (r *Repository) Suppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.DB().QueryContext(ctx, "SELECT data_json FROM suppliers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		var s Supplier
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decode supplier: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutSupplier inserts or replaces a supplier.
func (r *Repository) PutSupplier(ctx context.Context, s Supplier) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal supplier: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO suppliers (id, data_json) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data_json = excluded.data_json
	`, s.ID, string(data))
	if err != nil {
		return fmt.Errorf("write supplier %s: %w", s.ID, err)
	}
	return nil
}

// Budget returns the emergency reserve. A missing row reads as zero.
func (r *Repository) Budget(ctx context.Context) (Budget, error) {
	return BudgetQ(ctx, r.db.DB())
}

// BudgetQ reads the reserve through q.
func BudgetQ(ctx context.Context, q Querier) (Budget, error) {
	var b Budget
	var updatedAt string
	err := q.QueryRowContext(ctx,
		"SELECT currency, available, allocated, updated_at FROM budget WHERE id = 1",
	).Scan(&b.Currency, &b.Available, &b.Allocated, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Budget{Currency: "USD"}, nil
	}
	if err != nil {
		return Budget{}, fmt.Errorf("read budget: %w", err)
	}
	b.UpdatedAt = store.ParseTime(updatedAt)
	return b, nil
}

// SetBudget replaces the reserve.
func (r *Repository) SetBudget(ctx context.Context, b Budget) error {
	return SetBudgetQ(ctx, r.db.DB(), b, time.Now())
}

// SetBudgetQ writes the reserve through q.
func SetBudgetQ(ctx context.Context, q Querier, b Budget, at time.Time) error {
	if b.Currency == "" {
		b.Currency = "USD"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO budget (id, currency, available, allocated, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			currency = excluded.currency,
			available = excluded.available,
			allocated = excluded.allocated,
			updated_at = excluded.updated_at
	`, b.Currency, b.Available, b.Allocated, store.FormatTime(at))
	if err != nil {
		return fmt.Errorf("write budget: %w", err)
	}
	return nil
}

// Signals returns the monitored signals. Unset signals read as zero values
// with a perfect supplier index.
func (r *Repository) Signals(ctx context.Context) (Signals, error) {
	raw, err := r.db.GetKV(ctx, signalsKey)
	if err != nil {
		return Signals{}, err
	}
	if raw == "" {
		return Signals{SupplierReliabilityIndex: 1}, nil
	}
	var s Signals
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Signals{}, fmt.Errorf("decode signals: %w", err)
	}
	return s, nil
}

// SetSignals replaces the monitored signals.
func (r *Repository) SetSignals(ctx context.Context, s Signals) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	return r.db.SetKV(ctx, signalsKey, string(data))
}

// UpdateSignal sets one signal by type name.
func (r *Repository) UpdateSignal(ctx context.Context, signalType string, value float64, at time.Time) (Signals, error) {
	s, err := r.Signals(ctx)
	if err != nil {
		return Signals{}, err
	}
	if !s.Set(signalType, value, at) {
		return Signals{}, fmt.Errorf("unknown signal type %q (want %s, %s or %s)",
			signalType, SignalPortCongestion, SignalWeatherRisk, SignalSupplierReliability)
	}
	if err := r.SetSignals(ctx, s); err != nil {
		return Signals{}, err
	}
	return s, nil
}

// DelayShipment pushes the current ETA to the original ETA plus delay.
func (r *Repository) DelayShipment(ctx context.Context, id string, delay time.Duration) (*Shipment, error) {
	var out *Shipment
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		s, err := ShipmentQ(ctx, tx, id)
		if err != nil {
			return err
		}
		s.CurrentETA = s.OriginalETA.Add(delay)
		if err := PutShipmentQ(ctx, tx, *s, time.Now()); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
