package expense

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a transaction. PENDING is the only non-terminal value.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Action recorded in the audit log for a decision.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// ActionFor maps a requested terminal status to its audit action.
func ActionFor(s Status) (Action, error) {
	switch s {
	case StatusApproved:
		return ActionApprove, nil
	case StatusRejected:
		return ActionReject, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, string(s))
}

// Unit is an organizational sub-location submitting expenses.
type Unit struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Address           string    `json:"address"`
	ResponsiblePerson string    `json:"responsiblePerson"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// UnitUpdate carries a partial update; nil fields are left untouched.
type UnitUpdate struct {
	Name              *string `json:"name"`
	Address           *string `json:"address"`
	ResponsiblePerson *string `json:"responsiblePerson"`
}

// CostCenter is a categorical bucket for expenses.
type CostCenter struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CostCenterUpdate struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// UserRef is the public part of a user embedded in transaction listings.
type UserRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Transaction is a single expense entry awaiting or having received a decision.
type Transaction struct {
	ID              int64           `json:"id"`
	UnitID          int64           `json:"unitId"`
	CostCenterID    int64           `json:"costCenterId"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	SupplierName    string          `json:"supplierName"`
	SupplierCNPJ    string          `json:"supplierCnpj"`
	Description     string          `json:"description"`
	InvoiceURL      *string         `json:"invoiceUrl"`
	ReceiptURL      *string         `json:"receiptUrl"`
	CreatedByUserID int64           `json:"createdByUserId"`
	Status          Status          `json:"status"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`

	Unit          *Unit       `json:"unit,omitempty"`
	CostCenter    *CostCenter `json:"costCenter,omitempty"`
	CreatedByUser *UserRef    `json:"createdByUser,omitempty"`
}

// NewTransaction is a validated transaction ready to be stored.
type NewTransaction struct {
	UnitID          int64
	CostCenterID    int64
	Amount          decimal.Decimal
	Date            time.Time
	SupplierName    string
	SupplierCNPJ    string
	Description     string
	InvoiceURL      *string
	ReceiptURL      *string
	CreatedByUserID int64
}

// AuditEntry is an immutable record of an approve/reject decision.
type AuditEntry struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transactionId"`
	AuditorUserID int64     `json:"auditorUserId"`
	Action        Action    `json:"action"`
	Reason        *string   `json:"reason"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StatusChange is a request to move a transaction to a terminal status.
// ExpectedVersion, when positive, must match the stored row version.
type StatusChange struct {
	TransactionID   int64
	Status          Status
	ActorUserID     int64
	Reason          string
	ExpectedVersion int64
}

// Decision is a validated StatusChange handed to the store.
type Decision struct {
	TransactionID   int64
	Status          Status
	Action          Action
	ActorUserID     int64
	Reason          *string
	ExpectedVersion int64
}

// Filter restricts ListTransactions. Zero values mean "any".
type Filter struct {
	Status       Status
	UnitID       int64
	CostCenterID int64
	Search       string
}

// SummaryFilter restricts dashboard aggregates by unit and date range.
type SummaryFilter struct {
	UnitID int64
	From   time.Time
	To     time.Time
}

type StatusTotal struct {
	Status Status          `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type CostCenterTotal struct {
	CostCenterID int64           `json:"costCenterId"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Count        int64           `json:"count"`
	Amount       decimal.Decimal `json:"amount"`
}

// Summary aggregates transactions for the dashboard.
type Summary struct {
	TotalCount   int64             `json:"totalCount"`
	TotalAmount  decimal.Decimal   `json:"totalAmount"`
	ApprovalRate float64           `json:"approvalRate"`
	ByStatus     []StatusTotal     `json:"byStatus"`
	ByCostCenter []CostCenterTotal `json:"byCostCenter"`
	AsOf         time.Time         `json:"asOf"`
}

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrReferenced   = errors.New("record is referenced by existing transactions")

	// ErrInvalidStatus satisfies errors.Is(err, ErrInvalidInput).
	ErrInvalidStatus = fmt.Errorf("%w: status must be APPROVED or REJECTED", ErrInvalidInput)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
