package expense

import "context"

// Store is the persistence contract for reference data, transactions and the
// audit log. Implementations: internal/store/pg and internal/store/memory.
type Store interface {
	CreateUnit(ctx context.Context, u Unit) (Unit, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	ListUnits(ctx context.Context) ([]Unit, error)
	UpdateUnit(ctx context.Context, id int64, upd UnitUpdate) (Unit, error)
	// DeleteUnit returns ErrReferenced when transactions still point at the unit.
	DeleteUnit(ctx context.Context, id int64) error

	CreateCostCenter(ctx context.Context, c CostCenter) (CostCenter, error)
	GetCostCenter(ctx context.Context, id int64) (CostCenter, error)
	ListCostCenters(ctx context.Context) ([]CostCenter, error)
	UpdateCostCenter(ctx context.Context, id int64, upd CostCenterUpdate) (CostCenter, error)
	DeleteCostCenter(ctx context.Context, id int64) error

	CreateTransaction(ctx context.Context, in NewTransaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, f Filter) ([]Transaction, error)

	// ApplyDecision updates the status and appends the audit entry as one
	// atomic unit. The row must be PENDING (and at ExpectedVersion when set),
	// otherwise ErrConflict.
	ApplyDecision(ctx context.Context, d Decision) (Transaction, AuditEntry, error)
	ListAudit(ctx context.Context, transactionID int64) ([]AuditEntry, error)

	// Totals returns per-status and per-cost-center aggregates.
	Totals(ctx context.Context, f SummaryFilter) ([]StatusTotal, []CostCenterTotal, error)
}
