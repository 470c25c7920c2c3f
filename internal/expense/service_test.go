package expense_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/store/memory"
)

type env struct {
	svc   *expense.Service
	store *memory.Store
	user  int64
	unit  expense.Unit
	cc    expense.CostCenter
}

func newEnv(t *testing.T, opts ...expense.Option) env {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	u, err := st.CreateUser(ctx, auth.User{Email: "auditor@example.org", PasswordHash: "x", Role: auth.RoleAdmin})
	if err != nil {
		t.Fatal(err)
	}
	svc := expense.NewService(st, opts...)
	unit, err := svc.CreateUnit(ctx, expense.Unit{Name: "  Sede  "})
	if err != nil {
		t.Fatal(err)
	}
	cc, err := svc.CreateCostCenter(ctx, expense.CostCenter{Code: "CC-001", Name: "Admin"})
	if err != nil {
		t.Fatal(err)
	}
	return env{svc: svc, store: st, user: u.ID, unit: unit, cc: cc}
}

func (e env) create(t *testing.T, amount, date string) expense.Transaction {
	t.Helper()
	ctx := context.Background()
	nt, err := e.svc.PrepareTransaction(ctx, expense.TransactionInput{
		UnitID: e.unit.ID, CostCenterID: e.cc.ID, Amount: amount, Date: date, SupplierName: "Fornecedor",
	}, e.user)
	if err != nil {
		t.Fatalf("PrepareTransaction: %v", err)
	}
	tx, err := e.svc.CreateTransaction(ctx, nt)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	return tx
}

func TestCreateUnitTrimsAndValidates(t *testing.T) {
	e := newEnv(t)
	if e.unit.Name != "Sede" {
		t.Fatalf("name not trimmed: %q", e.unit.Name)
	}
	if _, err := e.svc.CreateUnit(context.Background(), expense.Unit{Name: "   "}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	empty := ""
	if _, err := e.svc.UpdateUnit(context.Background(), e.unit.ID, expense.UnitUpdate{Name: &empty}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on empty update, got %v", err)
	}
}

func TestCostCenterCodeLength(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	long := strings.Repeat("X", 33)
	if _, err := e.svc.CreateCostCenter(ctx, expense.CostCenter{Code: long, Name: "Longo"}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("create: expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.svc.UpdateCostCenter(ctx, e.cc.ID, expense.CostCenterUpdate{Code: &long}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("update: expected ErrInvalidInput, got %v", err)
	}
	ok := strings.Repeat("X", 32)
	if _, err := e.svc.CreateCostCenter(ctx, expense.CostCenter{Code: ok, Name: "Limite"}); err != nil {
		t.Fatalf("32-char code: %v", err)
	}
}

func TestPrepareTransactionValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := expense.TransactionInput{UnitID: e.unit.ID, CostCenterID: e.cc.ID, Amount: "10", Date: "2024-03-01"}

	cases := []struct {
		name   string
		mutate func(*expense.TransactionInput)
	}{
		{"missing unit", func(in *expense.TransactionInput) { in.UnitID = 0 }},
		{"unknown unit", func(in *expense.TransactionInput) { in.UnitID = 999 }},
		{"unknown cost center", func(in *expense.TransactionInput) { in.CostCenterID = 999 }},
		{"negative amount", func(in *expense.TransactionInput) { in.Amount = "-1" }},
		{"bad amount", func(in *expense.TransactionInput) { in.Amount = "ten" }},
		{"missing date", func(in *expense.TransactionInput) { in.Date = "" }},
		{"bad date", func(in *expense.TransactionInput) { in.Date = "01/03/2024" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			if _, err := e.svc.PrepareTransaction(ctx, in, e.user); !errors.Is(err, expense.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if _, err := e.svc.PrepareTransaction(ctx, base, 0); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without creator, got %v", err)
	}
}

func TestNewTransactionStartsPending(t *testing.T) {
	e := newEnv(t)
	tx := e.create(t, "1234,5", "2024-03-01")
	if tx.Status != expense.StatusPending {
		t.Fatalf("expected PENDING, got %s", tx.Status)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("1234.50")) {
		t.Fatalf("unexpected amount %s", tx.Amount)
	}
	if tx.CreatedByUserID != e.user {
		t.Fatalf("creator not recorded: %+v", tx)
	}
}

func TestApproveRecordsAuditEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.create(t, "50", "2024-03-01")

	updated, entry, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{
		TransactionID: tx.ID, Status: expense.StatusApproved, ActorUserID: e.user,
	})
	if err != nil {
		t.Fatalf("RequestStatusChange: %v", err)
	}
	if updated.Status != expense.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", updated.Status)
	}
	if entry.Action != expense.ActionApprove || entry.Reason != nil || entry.AuditorUserID != e.user {
		t.Fatalf("unexpected audit entry %+v", entry)
	}

	trail, err := e.svc.AuditTrail(ctx, tx.ID)
	if err != nil || len(trail) != 1 {
		t.Fatalf("AuditTrail: %d entries, err=%v", len(trail), err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.create(t, "50", "2024-03-01")

	for _, reason := range []string{"", "   "} {
		_, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{
			TransactionID: tx.ID, Status: expense.StatusRejected, ActorUserID: e.user, Reason: reason,
		})
		if !errors.Is(err, expense.ErrInvalidInput) {
			t.Fatalf("reason %q: expected ErrInvalidInput, got %v", reason, err)
		}
	}
	current, _ := e.svc.GetTransaction(ctx, tx.ID)
	if current.Status != expense.StatusPending {
		t.Fatalf("rejected validation must not change status, got %s", current.Status)
	}
	trail, _ := e.svc.AuditTrail(ctx, tx.ID)
	if len(trail) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(trail))
	}

	_, entry, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{
		TransactionID: tx.ID, Status: expense.StatusRejected, ActorUserID: e.user, Reason: "  sem nota fiscal ",
	})
	if err != nil {
		t.Fatalf("RequestStatusChange: %v", err)
	}
	if entry.Reason == nil || *entry.Reason != "sem nota fiscal" {
		t.Fatalf("unexpected reason %v", entry.Reason)
	}
}

func TestStatusChangeRejectsInvalidTargets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.create(t, "50", "2024-03-01")

	for _, st := range []expense.Status{expense.StatusPending, "PAID", "", "approved", " APPROVED", "Rejected"} {
		_, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{TransactionID: tx.ID, Status: st, ActorUserID: e.user})
		if !errors.Is(err, expense.ErrInvalidStatus) || !errors.Is(err, expense.ErrInvalidInput) {
			t.Fatalf("status %q: expected ErrInvalidStatus, got %v", st, err)
		}
	}
	if got, _ := e.svc.GetTransaction(ctx, tx.ID); got.Status != expense.StatusPending || got.Version != 1 {
		t.Fatalf("transaction changed: %+v", got)
	}
	if trail, _ := e.svc.AuditTrail(ctx, tx.ID); len(trail) != 0 {
		t.Fatalf("audit written for invalid status: %+v", trail)
	}
	if _, err := e.svc.ListTransactions(ctx, expense.Filter{Status: "pending"}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("lower-case filter: expected ErrInvalidInput, got %v", err)
	}
	_, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{TransactionID: 404, Status: expense.StatusApproved, ActorUserID: e.user})
	if !errors.Is(err, expense.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecisionIsFinal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.create(t, "50", "2024-03-01")

	if _, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{
		TransactionID: tx.ID, Status: expense.StatusApproved, ActorUserID: e.user, ExpectedVersion: tx.Version,
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{
		TransactionID: tx.ID, Status: expense.StatusRejected, ActorUserID: e.user, Reason: "changed mind",
	})
	if !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSummaryIncludesEveryStatus(t *testing.T) {
	asOf := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	e := newEnv(t, expense.WithClock(func() time.Time { return asOf }))
	ctx := context.Background()

	a := e.create(t, "100", "2024-03-01")
	b := e.create(t, "40.5", "2024-03-02")
	e.create(t, "9.5", "2024-03-03")
	if _, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{TransactionID: a.ID, Status: expense.StatusApproved, ActorUserID: e.user}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.svc.RequestStatusChange(ctx, expense.StatusChange{TransactionID: b.ID, Status: expense.StatusRejected, ActorUserID: e.user, Reason: "dup"}); err != nil {
		t.Fatal(err)
	}

	sum, err := e.svc.Summary(ctx, expense.SummaryFilter{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCount != 3 || !sum.TotalAmount.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("unexpected totals: count=%d amount=%s", sum.TotalCount, sum.TotalAmount)
	}
	if len(sum.ByStatus) != 3 {
		t.Fatalf("expected all statuses, got %+v", sum.ByStatus)
	}
	for i, st := range expense.Statuses {
		if sum.ByStatus[i].Status != st || sum.ByStatus[i].Count != 1 {
			t.Fatalf("unexpected status row %d: %+v", i, sum.ByStatus[i])
		}
	}
	if sum.ApprovalRate != 0.5 {
		t.Fatalf("expected approval rate 0.5, got %v", sum.ApprovalRate)
	}
	if !sum.AsOf.Equal(asOf) {
		t.Fatalf("unexpected asOf %v", sum.AsOf)
	}

	empty, err := expense.NewService(memory.New()).Summary(ctx, expense.SummaryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalCount != 0 || len(empty.ByStatus) != 3 || empty.ByCostCenter == nil || empty.ApprovalRate != 0 {
		t.Fatalf("unexpected empty summary %+v", empty)
	}

	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := e.svc.Summary(ctx, expense.SummaryFilter{From: from, To: from.Add(-time.Hour)}); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"10":       "10",
		"10.5":     "10.5",
		"1234,56":  "1234.56",
		" 0.005 ":  "0.01",
		"99999.99": "99999.99",
	}
	for in, want := range cases {
		got, err := expense.ParseAmount(in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", in, err)
		}
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseAmount(%q) = %s want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "abc", "1000000000000"} {
		if _, err := expense.ParseAmount(bad); !errors.Is(err, expense.ErrInvalidInput) {
			t.Fatalf("ParseAmount(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestSeedReferenceDataIsIdempotent(t *testing.T) {
	svc := expense.NewService(memory.New())
	ctx := context.Background()

	first, err := svc.SeedReferenceData(ctx, expense.DefaultUnits, expense.DefaultCostCenters)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if first.Units != len(expense.DefaultUnits) || first.CostCenters != len(expense.DefaultCostCenters) {
		t.Fatalf("unexpected first seed %+v", first)
	}
	second, err := svc.SeedReferenceData(ctx, expense.DefaultUnits, expense.DefaultCostCenters)
	if err != nil {
		t.Fatalf("seed again: %v", err)
	}
	if second.Units != 0 || second.CostCenters != 0 {
		t.Fatalf("expected no-op, got %+v", second)
	}
}
