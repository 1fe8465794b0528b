package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// Execution statuses. Each is distinct and observable by the caller.
const (
	StatusCompleted         = "completed"
	StatusSkippedDuplicate  = "skipped_already_executed"
	StatusInsufficientFunds = "insufficient_funds"
)

const (
	sourceEmergencyReserve = "emergency_reserve"
	approvedBy             = "LossRecoveryAuditor"
	executedBy             = "Treasurer"
	statusRerouted         = "rerouted"
)

// Transaction is an immutable record of one spend. At most one exists per shipment.
type Transaction struct {
	TransactionID         string    `json:"transaction_id"`
	Timestamp             time.Time `json:"timestamp"`
	Amount                float64   `json:"amount"`
	Source                string    `json:"source"`
	Destination           string    `json:"destination"`
	ShipmentID            string    `json:"shipment_id"`
	ApprovedBy            string    `json:"approved_by"`
	ExecutedBy            string    `json:"executed_by"`
	RecoveryBudgetCeiling float64   `json:"recovery_budget_ceiling"`
}

// Movement describes the reserve change of a completed execution.
type Movement struct {
	RecoveryBudgetCeiling  float64 `json:"recovery_budget_ceiling"`
	EmergencyReserveBefore float64 `json:"emergency_reserve_before"`
	Spent                  float64 `json:"spent"`
	EmergencyReserveAfter  float64 `json:"emergency_reserve_after"`
	RemainingAuthority     float64 `json:"remaining_authority"`
}

// Shortfall describes a refused execution.
type Shortfall struct {
	Before    float64 `json:"before"`
	Requested float64 `json:"requested"`
	After     float64 `json:"after"`
}

// ShipmentUpdate is the shipment state written by a completed execution.
type ShipmentUpdate struct {
	NewETA      time.Time `json:"new_eta"`
	NewStatus   string    `json:"new_status"`
	NewSupplier string    `json:"new_supplier,omitempty"`
	NewCarrier  string    `json:"new_carrier"`
}

// Request asks the ledger to pay for the selected option.
type Request struct {
	ShipmentID            string
	Option                logistics.Option
	Cost                  float64
	RecoveryBudgetCeiling float64
}

// Result is the outcome of Execute.
type Result struct {
	Timestamp       time.Time       `json:"timestamp"`
	Agent           string          `json:"agent"`
	ShipmentID      string          `json:"shipment_id"`
	Status          string          `json:"execution_status"`
	Transaction     *Transaction    `json:"transaction,omitempty"`
	BudgetMovement  *Movement       `json:"budget_movement,omitempty"`
	Shortfall       *Shortfall      `json:"budget_shortfall,omitempty"`
	ShipmentUpdated *ShipmentUpdate `json:"shipment_updated,omitempty"`
}

// Completed reports whether money moved.
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// Ledger is the only writer of the budget, transactions and shipment
// assignments.
type Ledger struct {
	db  *store.Store
	now func() time.Time
}

// New binds a ledger to the state database.
func New(db *store.Store) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Execute debits the reserve for req at most once per shipment. The
// duplicate check, funds check, debit, transaction insert and shipment update
// commit together or not at all.
func (l *Ledger) Execute(ctx context.Context, req Request) (Result, error) {
	var result Result
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := l.now().UTC()
		result = Result{Timestamp: now, Agent: executedBy, ShipmentID: req.ShipmentID}

		existing, err := transactionFor(ctx, tx, req.ShipmentID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Status = StatusSkippedDuplicate
			result.Transaction = existing
			return nil
		}

		budget, err := logistics.BudgetQ(ctx, tx)
		if err != nil {
			return err
		}
		if budget.Available < req.Cost {
			result.Status = StatusInsufficientFunds
			result.Shortfall = &Shortfall{Before: budget.Available, Requested: req.Cost, After: budget.Available}
			return nil
		}

		shipment, err := logistics.ShipmentQ(ctx, tx, req.ShipmentID)
		if err != nil {
			return err
		}

		before := budget.Available
		budget.Available -= req.Cost
		budget.Allocated += req.Cost
		if err := logistics.SetBudgetQ(ctx, tx, budget, now); err != nil {
			return err
		}

		txn := &Transaction{
			TransactionID:         "TX-" + ulid.Make().String(),
			Timestamp:             now,
			Amount:                req.Cost,
			Source:                sourceEmergencyReserve,
			Destination:           req.Option.Destination(),
			ShipmentID:            req.ShipmentID,
			ApprovedBy:            approvedBy,
			ExecutedBy:            executedBy,
			RecoveryBudgetCeiling: req.RecoveryBudgetCeiling,
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}

		shipment.CurrentETA = now.Add(time.Duration(req.Option.DeliveryHours * float64(time.Hour)))
		shipment.Status = statusRerouted
		if sup := req.Option.Supplier; sup != nil {
			shipment.SupplierID = sup.ID
			shipment.Carrier = "Expedited via " + sup.Name
		} else {
			shipment.Carrier = req.Option.Type
		}
		if err := logistics.PutShipmentQ(ctx, tx, *shipment, now); err != nil {
			return err
		}

		result.Status = StatusCompleted
		result.Transaction = txn
		result.BudgetMovement = &Movement{
			RecoveryBudgetCeiling:  req.RecoveryBudgetCeiling,
			EmergencyReserveBefore: before,
			Spent:                  req.Cost,
			EmergencyReserveAfter:  budget.Available,
			RemainingAuthority:     req.RecoveryBudgetCeiling - req.Cost,
		}
		result.ShipmentUpdated = &ShipmentUpdate{
			NewETA:      shipment.CurrentETA,
			NewStatus:   shipment.Status,
			NewSupplier: shipment.SupplierID,
			NewCarrier:  shipment.Carrier,
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("execute ledger for %s: %w", req.ShipmentID, err)
	}
	return result, nil
}

// TransactionFor returns the transaction recorded for shipmentID, or nil.
func (l *Ledger) TransactionFor(ctx context.Context, shipmentID string) (*Transaction, error) {
	return transactionFor(ctx, l.db.DB(), shipmentID)
}

// Transactions lists every transaction, oldest first.
func (l *Ledger) Transactions(ctx context.Context) ([]Transaction, error) {
	rows, err := l.db.DB().QueryContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions ORDER BY created_at, transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

const txColumns = `transaction_id, shipment_id, amount, source, destination, approved_by, executed_by,
	recovery_budget_ceiling, created_at`

func transactionFor(ctx context.Context, q logistics.Querier, shipmentID string) (*Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE shipment_id = ?`, shipmentID)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, txn *Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.TransactionID, txn.ShipmentID, txn.Amount, txn.Source, txn.Destination,
		txn.ApprovedBy, txn.ExecutedBy, txn.RecoveryBudgetCeiling, store.FormatTime(txn.Timestamp))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var createdAt string
	err := row.Scan(&txn.TransactionID, &txn.ShipmentID, &txn.Amount, &txn.Source, &txn.Destination,
		&txn.ApprovedBy, &txn.ExecutedBy, &txn.RecoveryBudgetCeiling, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	txn.Timestamp = store.ParseTime(createdAt)
	return &txn, nil
}
