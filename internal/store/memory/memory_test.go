package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
)

type fixture struct {
	store *Store
	user  auth.User
	unit  expense.Unit
	cc    expense.CostCenter
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s := New()
	u, err := s.CreateUser(ctx, auth.User{Email: "Staff@Example.org", PasswordHash: "x", Role: auth.RoleUser})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	unit, err := s.CreateUnit(ctx, expense.Unit{Name: "Sede"})
	if err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	cc, err := s.CreateCostCenter(ctx, expense.CostCenter{Code: "CC-001", Name: "Admin"})
	if err != nil {
		t.Fatalf("CreateCostCenter: %v", err)
	}
	return fixture{store: s, user: u, unit: unit, cc: cc}
}

func (f fixture) addTx(t *testing.T, amount string, date time.Time, supplier string) expense.Transaction {
	t.Helper()
	tx, err := f.store.CreateTransaction(context.Background(), expense.NewTransaction{
		UnitID:          f.unit.ID,
		CostCenterID:    f.cc.ID,
		Amount:          decimal.RequireFromString(amount),
		Date:            date,
		SupplierName:    supplier,
		CreatedByUserID: f.user.ID,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	return tx
}

func TestUsersAreUniqueByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.store.FindUserByEmail(ctx, " STAFF@example.org")
	if err != nil || got.ID != f.user.ID {
		t.Fatalf("FindUserByEmail: %+v %v", got, err)
	}
	if _, err := f.store.CreateUser(ctx, auth.User{Email: "staff@example.org"}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := f.store.FindUserByEmail(ctx, "nobody@example.org"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTransactionExpandsRelations(t *testing.T) {
	f := newFixture(t)
	tx := f.addTx(t, "150.00", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Mercado Bom Preço")

	if tx.Status != expense.StatusPending || tx.Version != 1 {
		t.Fatalf("unexpected initial state: %+v", tx)
	}
	if tx.Unit == nil || tx.Unit.Name != "Sede" {
		t.Fatalf("unit not expanded: %+v", tx.Unit)
	}
	if tx.CostCenter == nil || tx.CostCenter.Code != "CC-001" {
		t.Fatalf("cost center not expanded: %+v", tx.CostCenter)
	}
	if tx.CreatedByUser == nil || tx.CreatedByUser.Email != "staff@example.org" {
		t.Fatalf("creator not expanded: %+v", tx.CreatedByUser)
	}

	_, err := f.store.CreateTransaction(context.Background(), expense.NewTransaction{
		UnitID: 999, CostCenterID: f.cc.ID, CreatedByUserID: f.user.ID,
	})
	if !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown unit, got %v", err)
	}
}

func TestListTransactionsFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

	older := f.addTx(t, "10", day(1), "Padaria Central")
	newer := f.addTx(t, "20", day(5), "Posto Avenida")
	sameDay := f.addTx(t, "30", day(5), "Padaria do Bairro")

	all, err := f.store.ListTransactions(ctx, expense.Filter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	wantOrder := []int64{sameDay.ID, newer.ID, older.ID}
	if len(all) != len(wantOrder) {
		t.Fatalf("expected %d rows, got %d", len(wantOrder), len(all))
	}
	for i, id := range wantOrder {
		if all[i].ID != id {
			t.Fatalf("position %d: want id %d got %d", i, id, all[i].ID)
		}
	}

	padaria, _ := f.store.ListTransactions(ctx, expense.Filter{Search: "padaria"})
	if len(padaria) != 2 {
		t.Fatalf("expected 2 search hits, got %d", len(padaria))
	}

	if _, _, err := f.store.ApplyDecision(ctx, expense.Decision{
		TransactionID: older.ID, Status: expense.StatusApproved, Action: expense.ActionApprove, ActorUserID: f.user.ID,
	}); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	pending, _ := f.store.ListTransactions(ctx, expense.Filter{Status: expense.StatusPending})
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	none, _ := f.store.ListTransactions(ctx, expense.Filter{UnitID: f.unit.ID + 100})
	if len(none) != 0 {
		t.Fatalf("expected no rows for foreign unit, got %d", len(none))
	}
}

func TestApplyDecisionIsSingleShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.addTx(t, "99.90", time.Now().UTC(), "Fornecedor")

	reason := "nota ilegível"
	updated, entry, err := f.store.ApplyDecision(ctx, expense.Decision{
		TransactionID: tx.ID, Status: expense.StatusRejected, Action: expense.ActionReject,
		ActorUserID: f.user.ID, Reason: &reason, ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if updated.Status != expense.StatusRejected || updated.Version != 2 {
		t.Fatalf("unexpected transaction: %+v", updated)
	}
	if entry.Action != expense.ActionReject || entry.Reason == nil || *entry.Reason != reason {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}

	_, _, err = f.store.ApplyDecision(ctx, expense.Decision{
		TransactionID: tx.ID, Status: expense.StatusApproved, Action: expense.ActionApprove, ActorUserID: f.user.ID,
	})
	if !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("expected ErrConflict on second decision, got %v", err)
	}

	entries, err := f.store.ListAudit(ctx, tx.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d (%v)", len(entries), err)
	}
}

func TestApplyDecisionChecksVersion(t *testing.T) {
	f := newFixture(t)
	tx := f.addTx(t, "5", time.Now().UTC(), "X")

	_, _, err := f.store.ApplyDecision(context.Background(), expense.Decision{
		TransactionID: tx.ID, Status: expense.StatusApproved, Action: expense.ActionApprove,
		ActorUserID: f.user.ID, ExpectedVersion: 7,
	})
	if !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
	_, _, err = f.store.ApplyDecision(context.Background(), expense.Decision{
		TransactionID: 12345, Status: expense.StatusApproved, Action: expense.ActionApprove, ActorUserID: f.user.ID,
	})
	if !errors.Is(err, expense.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentDecisionsProduceOneWinner(t *testing.T) {
	f := newFixture(t)
	tx := f.addTx(t, "42", time.Now().UTC(), "Concorrente")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := expense.Decision{TransactionID: tx.ID, Status: expense.StatusApproved, Action: expense.ActionApprove, ActorUserID: f.user.ID}
			if i%2 == 1 {
				reason := "duplicada"
				d.Status, d.Action, d.Reason = expense.StatusRejected, expense.ActionReject, &reason
			}
			_, _, err := f.store.ApplyDecision(context.Background(), d)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, expense.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
	entries, _ := f.store.ListAudit(context.Background(), tx.ID)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
}

func TestDeleteReferencedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTx(t, "1", time.Now().UTC(), "Y")

	if err := f.store.DeleteUnit(ctx, f.unit.ID); !errors.Is(err, expense.ErrReferenced) {
		t.Fatalf("expected ErrReferenced for unit, got %v", err)
	}
	if err := f.store.DeleteCostCenter(ctx, f.cc.ID); !errors.Is(err, expense.ErrReferenced) {
		t.Fatalf("expected ErrReferenced for cost center, got %v", err)
	}

	spare, _ := f.store.CreateUnit(ctx, expense.Unit{Name: "Spare"})
	if err := f.store.DeleteUnit(ctx, spare.ID); err != nil {
		t.Fatalf("DeleteUnit: %v", err)
	}
	if err := f.store.DeleteUnit(ctx, spare.ID); !errors.Is(err, expense.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCostCenterCodeIsUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.CreateCostCenter(ctx, expense.CostCenter{Code: "CC-001", Name: "Dup"}); !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	other, _ := f.store.CreateCostCenter(ctx, expense.CostCenter{Code: "CC-002", Name: "Food"})
	code := "CC-001"
	if _, err := f.store.UpdateCostCenter(ctx, other.ID, expense.CostCenterUpdate{Code: &code}); !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("expected ErrConflict on update, got %v", err)
	}
	name := "Alimentação"
	updated, err := f.store.UpdateCostCenter(ctx, other.ID, expense.CostCenterUpdate{Name: &name})
	if err != nil || updated.Name != name || updated.Code != "CC-002" {
		t.Fatalf("UpdateCostCenter: %+v %v", updated, err)
	}
}

func TestTotalsGroupByStatusAndCostCenter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	food, _ := f.store.CreateCostCenter(ctx, expense.CostCenter{Code: "CC-002", Name: "Food"})

	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	a := f.addTx(t, "100.50", jan, "A")
	f.addTx(t, "50.25", feb, "B")
	if _, err := f.store.CreateTransaction(ctx, expense.NewTransaction{
		UnitID: f.unit.ID, CostCenterID: food.ID, Amount: decimal.RequireFromString("300"),
		Date: feb, CreatedByUserID: f.user.ID,
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if _, _, err := f.store.ApplyDecision(ctx, expense.Decision{
		TransactionID: a.ID, Status: expense.StatusApproved, Action: expense.ActionApprove, ActorUserID: f.user.ID,
	}); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	statuses, centers, err := f.store.Totals(ctx, expense.SummaryFilter{})
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status groups, got %+v", statuses)
	}
	if len(centers) != 2 || centers[0].CostCenterID != food.ID || !centers[0].Amount.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("unexpected cost center totals: %+v", centers)
	}
	if !centers[1].Amount.Equal(decimal.RequireFromString("150.75")) || centers[1].Count != 2 {
		t.Fatalf("unexpected CC-001 total: %+v", centers[1])
	}

	statuses, _, _ = f.store.Totals(ctx, expense.SummaryFilter{From: feb})
	var count int64
	for _, st := range statuses {
		count += st.Count
	}
	if count != 2 {
		t.Fatalf("expected 2 rows from february, got %d", count)
	}
}
