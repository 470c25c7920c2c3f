package expense

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxNameLen        = 200
	maxCNPJLen        = 32
	maxCodeLen        = 32
	maxDescriptionLen = 2000
	maxReasonLen      = 2000
)

// maxAmount matches numeric(14,2).
var maxAmount = decimal.New(1, 12)

// TransactionInput is the raw, unvalidated form of a new transaction as it
// arrives from the API layer.
type TransactionInput struct {
	UnitID       int64
	CostCenterID int64
	Amount       string
	Date         string
	SupplierName string
	SupplierCNPJ string
	Description  string
}

// Service validates requests and delegates persistence to a Store.
type Service struct {
	store Store
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- reference data ---

func (s *Service) CreateUnit(ctx context.Context, u Unit) (Unit, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Address = strings.TrimSpace(u.Address)
	u.ResponsiblePerson = strings.TrimSpace(u.ResponsiblePerson)
	if u.Name == "" {
		return Unit{}, invalid("name is required")
	}
	if len(u.Name) > maxNameLen {
		return Unit{}, invalid("name is too long")
	}
	return s.store.CreateUnit(ctx, u)
}

func (s *Service) GetUnit(ctx context.Context, id int64) (Unit, error) {
	return s.store.GetUnit(ctx, id)
}

func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.store.ListUnits(ctx)
}

func (s *Service) UpdateUnit(ctx context.Context, id int64, upd UnitUpdate) (Unit, error) {
	upd.Name = trimPtr(upd.Name)
	upd.Address = trimPtr(upd.Address)
	upd.ResponsiblePerson = trimPtr(upd.ResponsiblePerson)
	if upd.Name != nil && *upd.Name == "" {
		return Unit{}, invalid("name must not be empty")
	}
	return s.store.UpdateUnit(ctx, id, upd)
}

func (s *Service) DeleteUnit(ctx context.Context, id int64) error {
	return s.store.DeleteUnit(ctx, id)
}

func (s *Service) CreateCostCenter(ctx context.Context, c CostCenter) (CostCenter, error) {
	c.Code = strings.TrimSpace(c.Code)
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	if c.Code == "" || c.Name == "" {
		return CostCenter{}, invalid("code and name are required")
	}
	if len(c.Code) > maxCodeLen || len(c.Name) > maxNameLen {
		return CostCenter{}, invalid("code or name is too long")
	}
	return s.store.CreateCostCenter(ctx, c)
}

func (s *Service) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return s.store.GetCostCenter(ctx, id)
}

func (s *Service) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	return s.store.ListCostCenters(ctx)
}

func (s *Service) UpdateCostCenter(ctx context.Context, id int64, upd CostCenterUpdate) (CostCenter, error) {
	upd.Code = trimPtr(upd.Code)
	upd.Name = trimPtr(upd.Name)
	upd.Description = trimPtr(upd.Description)
	if (upd.Code != nil && *upd.Code == "") || (upd.Name != nil && *upd.Name == "") {
		return CostCenter{}, invalid("code and name must not be empty")
	}
	if (upd.Code != nil && len(*upd.Code) > maxCodeLen) || (upd.Name != nil && len(*upd.Name) > maxNameLen) {
		return CostCenter{}, invalid("code or name is too long")
	}
	return s.store.UpdateCostCenter(ctx, id, upd)
}

func (s *Service) DeleteCostCenter(ctx context.Context, id int64) error {
	return s.store.DeleteCostCenter(ctx, id)
}

// --- transactions ---

// PrepareTransaction parses and validates raw input, including that the
// referenced unit and cost center exist. Nothing is written.
func (s *Service) PrepareTransaction(ctx context.Context, in TransactionInput, creatorID int64) (NewTransaction, error) {
	if creatorID <= 0 {
		return NewTransaction{}, invalid("creator is required")
	}
	if in.UnitID <= 0 {
		return NewTransaction{}, invalid("unitId is required")
	}
	if in.CostCenterID <= 0 {
		return NewTransaction{}, invalid("costCenterId is required")
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return NewTransaction{}, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return NewTransaction{}, err
	}
	nt := NewTransaction{
		UnitID:          in.UnitID,
		CostCenterID:    in.CostCenterID,
		Amount:          amount,
		Date:            date,
		SupplierName:    strings.TrimSpace(in.SupplierName),
		SupplierCNPJ:    strings.TrimSpace(in.SupplierCNPJ),
		Description:     strings.TrimSpace(in.Description),
		CreatedByUserID: creatorID,
	}
	if len(nt.SupplierName) > maxNameLen {
		return NewTransaction{}, invalid("supplierName is too long")
	}
	if len(nt.SupplierCNPJ) > maxCNPJLen {
		return NewTransaction{}, invalid("supplierCnpj is too long")
	}
	if len(nt.Description) > maxDescriptionLen {
		return NewTransaction{}, invalid("description is too long")
	}

	if _, err := s.store.GetUnit(ctx, nt.UnitID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewTransaction{}, invalid("unknown unitId %d", nt.UnitID)
		}
		return NewTransaction{}, err
	}
	if _, err := s.store.GetCostCenter(ctx, nt.CostCenterID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewTransaction{}, invalid("unknown costCenterId %d", nt.CostCenterID)
		}
		return NewTransaction{}, err
	}
	return nt, nil
}

// CreateTransaction stores a prepared transaction in status PENDING.
func (s *Service) CreateTransaction(ctx context.Context, nt NewTransaction) (Transaction, error) {
	if nt.CreatedByUserID <= 0 || nt.UnitID <= 0 || nt.CostCenterID <= 0 {
		return Transaction{}, invalid("transaction is not prepared")
	}
	if nt.Amount.IsNegative() {
		return Transaction{}, invalid("amount must be >= 0")
	}
	return s.store.CreateTransaction(ctx, nt)
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, f Filter) ([]Transaction, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("unknown status %q", string(f.Status))
	}
	f.Search = strings.TrimSpace(f.Search)
	return s.store.ListTransactions(ctx, f)
}

// RequestStatusChange moves a PENDING transaction to APPROVED or REJECTED and
// records exactly one audit entry for the decision.
func (s *Service) RequestStatusChange(ctx context.Context, req StatusChange) (Transaction, AuditEntry, error) {
	action, err := ActionFor(req.Status)
	if err != nil {
		return Transaction{}, AuditEntry{}, err
	}
	if req.TransactionID <= 0 {
		return Transaction{}, AuditEntry{}, ErrNotFound
	}
	if req.ActorUserID <= 0 {
		return Transaction{}, AuditEntry{}, invalid("acting user is required")
	}
	if req.ExpectedVersion < 0 {
		return Transaction{}, AuditEntry{}, invalid("expectedVersion must be positive")
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxReasonLen {
		return Transaction{}, AuditEntry{}, invalid("reason is too long")
	}
	if action == ActionReject && reason == "" {
		return Transaction{}, AuditEntry{}, invalid("reason is required when rejecting")
	}

	d := Decision{
		TransactionID:   req.TransactionID,
		Status:          req.Status,
		Action:          action,
		ActorUserID:     req.ActorUserID,
		ExpectedVersion: req.ExpectedVersion,
	}
	if reason != "" {
		d.Reason = &reason
	}
	return s.store.ApplyDecision(ctx, d)
}

// AuditTrail returns the decisions recorded for a transaction, oldest first.
func (s *Service) AuditTrail(ctx context.Context, transactionID int64) ([]AuditEntry, error) {
	if _, err := s.store.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, transactionID)
}

// Summary computes dashboard totals. Every status appears in ByStatus.
func (s *Service) Summary(ctx context.Context, f SummaryFilter) (Summary, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Summary{}, invalid("to must not precede from")
	}
	byStatus, byCC, err := s.store.Totals(ctx, f)
	if err != nil {
		return Summary{}, err
	}

	totals := make(map[Status]StatusTotal, len(byStatus))
	for _, st := range byStatus {
		totals[st.Status] = st
	}
	sum := Summary{
		TotalAmount:  decimal.Zero,
		ByStatus:     make([]StatusTotal, 0, len(Statuses)),
		ByCostCenter: byCC,
		AsOf:         s.now().UTC(),
	}
	if sum.ByCostCenter == nil {
		sum.ByCostCenter = []CostCenterTotal{}
	}
	for _, st := range Statuses {
		t, ok := totals[st]
		if !ok {
			t = StatusTotal{Status: st, Amount: decimal.Zero}
		}
		sum.ByStatus = append(sum.ByStatus, t)
		sum.TotalCount += t.Count
		sum.TotalAmount = sum.TotalAmount.Add(t.Amount)
	}
	decided := totals[StatusApproved].Count + totals[StatusRejected].Count
	if decided > 0 {
		sum.ApprovalRate = float64(totals[StatusApproved].Count) / float64(decided)
	}
	return sum, nil
}

// ParseAmount accepts "1234.56" or "1234,56" and rounds to cents.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, invalid("amount is required")
	}
	if !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, invalid("amount %q is not a number", raw)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, invalid("amount must be >= 0")
	}
	amount = amount.Round(2)
	if amount.GreaterThanOrEqual(maxAmount) {
		return decimal.Decimal{}, invalid("amount is too large")
	}
	return amount, nil
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, invalid("date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, invalid("date %q must be RFC 3339 or YYYY-MM-DD", raw)
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
