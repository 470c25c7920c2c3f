package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
)

// Store implements expense.Store and auth.UserStore with in-process
// concurrency safety. Used for tests and for running without DATABASE_URL.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users       map[int64]auth.User
	units       map[int64]expense.Unit
	costCenters map[int64]expense.CostCenter
	txs         map[int64]expense.Transaction
	audit       []expense.AuditEntry

	seqUser, seqUnit, seqCC, seqTx, seqAudit int64
}

var (
	_ expense.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		users:       make(map[int64]auth.User),
		units:       make(map[int64]expense.Unit),
		costCenters: make(map[int64]expense.CostCenter),
		txs:         make(map[int64]expense.Transaction),
	}
}

// --- users ---

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.User{}, auth.ErrAlreadyExists
		}
	}
	s.seqUser++
	u.ID = s.seqUser
	u.CreatedAt = s.now()
	s.users[u.ID] = u
	return u, nil
}

// --- units ---

func (s *Store) CreateUnit(_ context.Context, u expense.Unit) (expense.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqUnit++
	now := s.now()
	u.ID = s.seqUnit
	u.CreatedAt, u.UpdatedAt = now, now
	s.units[u.ID] = u
	return u, nil
}

func (s *Store) GetUnit(_ context.Context, id int64) (expense.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return expense.Unit{}, expense.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUnits(_ context.Context) ([]expense.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]expense.Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateUnit(_ context.Context, id int64, upd expense.UnitUpdate) (expense.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return expense.Unit{}, expense.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Address != nil {
		u.Address = *upd.Address
	}
	if upd.ResponsiblePerson != nil {
		u.ResponsiblePerson = *upd.ResponsiblePerson
	}
	u.UpdatedAt = s.now()
	s.units[id] = u
	return u, nil
}

func (s *Store) DeleteUnit(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[id]; !ok {
		return expense.ErrNotFound
	}
	for _, tx := range s.txs {
		if tx.UnitID == id {
			return expense.ErrReferenced
		}
	}
	delete(s.units, id)
	return nil
}

// --- cost centers ---

func (s *Store) CreateCostCenter(_ context.Context, c expense.CostCenter) (expense.CostCenter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.costCenters {
		if existing.Code == c.Code {
			return expense.CostCenter{}, expense.ErrConflict
		}
	}
	s.seqCC++
	now := s.now()
	c.ID = s.seqCC
	c.CreatedAt, c.UpdatedAt = now, now
	s.costCenters[c.ID] = c
	return c, nil
}

func (s *Store) GetCostCenter(_ context.Context, id int64) (expense.CostCenter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.costCenters[id]
	if !ok {
		return expense.CostCenter{}, expense.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCostCenters(_ context.Context) ([]expense.CostCenter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]expense.CostCenter, 0, len(s.costCenters))
	for _, c := range s.costCenters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateCostCenter(_ context.Context, id int64, upd expense.CostCenterUpdate) (expense.CostCenter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.costCenters[id]
	if !ok {
		return expense.CostCenter{}, expense.ErrNotFound
	}
	if upd.Code != nil && *upd.Code != c.Code {
		for _, existing := range s.costCenters {
			if existing.ID != id && existing.Code == *upd.Code {
				return expense.CostCenter{}, expense.ErrConflict
			}
		}
		c.Code = *upd.Code
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Description != nil {
		c.Description = *upd.Description
	}
	c.UpdatedAt = s.now()
	s.costCenters[id] = c
	return c, nil
}

func (s *Store) DeleteCostCenter(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.costCenters[id]; !ok {
		return expense.ErrNotFound
	}
	for _, tx := range s.txs {
		if tx.CostCenterID == id {
			return expense.ErrReferenced
		}
	}
	delete(s.costCenters, id)
	return nil
}

// --- transactions ---

func (s *Store) CreateTransaction(_ context.Context, in expense.NewTransaction) (expense.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[in.UnitID]; !ok {
		return expense.Transaction{}, expense.ErrInvalidInput
	}
	if _, ok := s.costCenters[in.CostCenterID]; !ok {
		return expense.Transaction{}, expense.ErrInvalidInput
	}
	if _, ok := s.users[in.CreatedByUserID]; !ok {
		return expense.Transaction{}, expense.ErrInvalidInput
	}

	s.seqTx++
	tx := expense.Transaction{
		ID:              s.seqTx,
		UnitID:          in.UnitID,
		CostCenterID:    in.CostCenterID,
		Amount:          in.Amount,
		Date:            in.Date,
		SupplierName:    in.SupplierName,
		SupplierCNPJ:    in.SupplierCNPJ,
		Description:     in.Description,
		InvoiceURL:      copyString(in.InvoiceURL),
		ReceiptURL:      copyString(in.ReceiptURL),
		CreatedByUserID: in.CreatedByUserID,
		Status:          expense.StatusPending,
		Version:         1,
		CreatedAt:       s.now(),
	}
	s.txs[tx.ID] = tx
	return s.expand(tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (expense.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return expense.Transaction{}, expense.ErrNotFound
	}
	return s.expand(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, f expense.Filter) ([]expense.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(f.Search)
	out := make([]expense.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.UnitID > 0 && tx.UnitID != f.UnitID {
			continue
		}
		if f.CostCenterID > 0 && tx.CostCenterID != f.CostCenterID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(tx.SupplierName), search) &&
			!strings.Contains(strings.ToLower(tx.SupplierCNPJ), search) &&
			!strings.Contains(strings.ToLower(tx.Description), search) {
			continue
		}
		out = append(out, s.expand(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ApplyDecision(_ context.Context, d expense.Decision) (expense.Transaction, expense.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[d.TransactionID]
	if !ok {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrNotFound
	}
	if tx.Status != expense.StatusPending {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrConflict
	}
	if d.ExpectedVersion > 0 && d.ExpectedVersion != tx.Version {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrConflict
	}
	if _, ok := s.users[d.ActorUserID]; !ok {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrInvalidInput
	}

	// both writes happen under the same lock, so they are visible together
	tx.Status = d.Status
	tx.Version++
	s.txs[tx.ID] = tx

	s.seqAudit++
	entry := expense.AuditEntry{
		ID:            s.seqAudit,
		TransactionID: tx.ID,
		AuditorUserID: d.ActorUserID,
		Action:        d.Action,
		Reason:        copyString(d.Reason),
		CreatedAt:     s.now(),
	}
	s.audit = append(s.audit, entry)
	return s.expand(tx), entry, nil
}

func (s *Store) ListAudit(_ context.Context, transactionID int64) ([]expense.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []expense.AuditEntry{}
	for _, e := range s.audit {
		if e.TransactionID == transactionID {
			e.Reason = copyString(e.Reason)
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Totals(_ context.Context, f expense.SummaryFilter) ([]expense.StatusTotal, []expense.CostCenterTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := map[expense.Status]*expense.StatusTotal{}
	byCC := map[int64]*expense.CostCenterTotal{}
	for _, tx := range s.txs {
		if f.UnitID > 0 && tx.UnitID != f.UnitID {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		st, ok := byStatus[tx.Status]
		if !ok {
			st = &expense.StatusTotal{Status: tx.Status, Amount: decimal.Zero}
			byStatus[tx.Status] = st
		}
		st.Count++
		st.Amount = st.Amount.Add(tx.Amount)

		cc, ok := byCC[tx.CostCenterID]
		if !ok {
			ref := s.costCenters[tx.CostCenterID]
			cc = &expense.CostCenterTotal{CostCenterID: tx.CostCenterID, Code: ref.Code, Name: ref.Name, Amount: decimal.Zero}
			byCC[tx.CostCenterID] = cc
		}
		cc.Count++
		cc.Amount = cc.Amount.Add(tx.Amount)
	}

	statuses := make([]expense.StatusTotal, 0, len(byStatus))
	for _, st := range byStatus {
		statuses = append(statuses, *st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Status < statuses[j].Status })

	centers := make([]expense.CostCenterTotal, 0, len(byCC))
	for _, cc := range byCC {
		centers = append(centers, *cc)
	}
	sort.Slice(centers, func(i, j int) bool {
		if !centers[i].Amount.Equal(centers[j].Amount) {
			return centers[i].Amount.GreaterThan(centers[j].Amount)
		}
		return centers[i].CostCenterID < centers[j].CostCenterID
	})
	return statuses, centers, nil
}

// expand must be called with the lock held.
func (s *Store) expand(tx expense.Transaction) expense.Transaction {
	tx.InvoiceURL = copyString(tx.InvoiceURL)
	tx.ReceiptURL = copyString(tx.ReceiptURL)
	if u, ok := s.units[tx.UnitID]; ok {
		tx.Unit = &u
	}
	if c, ok := s.costCenters[tx.CostCenterID]; ok {
		tx.CostCenter = &c
	}
	if usr, ok := s.users[tx.CreatedByUserID]; ok {
		tx.CreatedByUser = &expense.UserRef{ID: usr.ID, Email: usr.Email}
	}
	return tx
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
