package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prestacao.org/internal/expense"
)

const transactionSelect = `
	select t.id, t.unit_id, t.cost_center_id, t.amount, t.date, t.supplier_name, t.supplier_cnpj,
		t.description, t.invoice_url, t.receipt_url, t.created_by_user_id, t.status, t.version, t.created_at,
		u.id, u.name, u.address, u.responsible_person, u.created_at, u.updated_at,
		c.id, c.code, c.name, c.description, c.created_at, c.updated_at,
		usr.id, usr.email
	from transactions t
	join units u on u.id = t.unit_id
	join cost_centers c on c.id = t.cost_center_id
	join users usr on usr.id = t.created_by_user_id`

func scanTransaction(row interface{ Scan(...any) error }) (expense.Transaction, error) {
	var (
		tx      expense.Transaction
		unit    expense.Unit
		cc      expense.CostCenter
		creator expense.UserRef
		invoice sql.NullString
		receipt sql.NullString
		status  string
	)
	err := row.Scan(
		&tx.ID, &tx.UnitID, &tx.CostCenterID, &tx.Amount, &tx.Date, &tx.SupplierName, &tx.SupplierCNPJ,
		&tx.Description, &invoice, &receipt, &tx.CreatedByUserID, &status, &tx.Version, &tx.CreatedAt,
		&unit.ID, &unit.Name, &unit.Address, &unit.ResponsiblePerson, &unit.CreatedAt, &unit.UpdatedAt,
		&cc.ID, &cc.Code, &cc.Name, &cc.Description, &cc.CreatedAt, &cc.UpdatedAt,
		&creator.ID, &creator.Email,
	)
	if err != nil {
		return expense.Transaction{}, err
	}
	tx.Status = expense.Status(status)
	if invoice.Valid {
		tx.InvoiceURL = &invoice.String
	}
	if receipt.Valid {
		tx.ReceiptURL = &receipt.String
	}
	tx.Date = tx.Date.UTC()
	tx.Unit, tx.CostCenter, tx.CreatedByUser = &unit, &cc, &creator
	return tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, in expense.NewTransaction) (expense.Transaction, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into transactions (unit_id, cost_center_id, amount, date, supplier_name, supplier_cnpj,
			description, invoice_url, receipt_url, created_by_user_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning id
	`, in.UnitID, in.CostCenterID, in.Amount, in.Date, in.SupplierName, in.SupplierCNPJ,
		in.Description, nullable(in.InvoiceURL), nullable(in.ReceiptURL), in.CreatedByUserID).Scan(&id)
	if err != nil {
		return expense.Transaction{}, mapWriteError(err, expense.ErrInvalidInput)
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (expense.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, transactionSelect+` where t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Transaction{}, expense.ErrNotFound
	}
	return tx, err
}

func (s *Store) ListTransactions(ctx context.Context, f expense.Filter) ([]expense.Transaction, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Status != "" {
		where = append(where, fmt.Sprintf("t.status = $%d", idx))
		args = append(args, string(f.Status))
		idx++
	}
	if f.UnitID > 0 {
		where = append(where, fmt.Sprintf("t.unit_id = $%d", idx))
		args = append(args, f.UnitID)
		idx++
	}
	if f.CostCenterID > 0 {
		where = append(where, fmt.Sprintf("t.cost_center_id = $%d", idx))
		args = append(args, f.CostCenterID)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(t.supplier_name ilike $%d or t.supplier_cnpj ilike $%d or t.description ilike $%d)", idx, idx, idx))
		args = append(args, "%"+escapeLike(f.Search)+"%")
		idx++
	}

	query := transactionSelect
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by t.date desc, t.id desc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []expense.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) ApplyDecision(ctx context.Context, d expense.Decision) (expense.Transaction, expense.AuditEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status  string
		version int64
	)
	err = tx.QueryRowContext(ctx, `select status, version from transactions where id = $1 for update`, d.TransactionID).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrNotFound
	}
	if err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	}
	if expense.Status(status) != expense.StatusPending {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrConflict
	}
	if d.ExpectedVersion > 0 && d.ExpectedVersion != version {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrConflict
	}

	// status and version are re-checked by the update itself
	res, err := tx.ExecContext(ctx, `
		update transactions set status = $1, version = version + 1
		where id = $2 and status = 'PENDING' and version = $3
	`, string(d.Status), d.TransactionID, version)
	if err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	} else if aff == 0 {
		return expense.Transaction{}, expense.AuditEntry{}, expense.ErrConflict
	}

	entry := expense.AuditEntry{
		TransactionID: d.TransactionID,
		AuditorUserID: d.ActorUserID,
		Action:        d.Action,
		Reason:        d.Reason,
	}
	err = tx.QueryRowContext(ctx, `
		insert into audit_logs (transaction_id, auditor_user_id, action, reason)
		values ($1, $2, $3, $4)
		returning id, created_at
	`, d.TransactionID, d.ActorUserID, string(d.Action), nullable(d.Reason)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, mapWriteError(err, expense.ErrInvalidInput)
	}

	if err := tx.Commit(); err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	}

	updated, err := s.GetTransaction(ctx, d.TransactionID)
	if err != nil {
		return expense.Transaction{}, expense.AuditEntry{}, err
	}
	return updated, entry, nil
}

func (s *Store) ListAudit(ctx context.Context, transactionID int64) ([]expense.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, transaction_id, auditor_user_id, action, reason, created_at
		from audit_logs
		where transaction_id = $1
		order by created_at, id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []expense.AuditEntry{}
	for rows.Next() {
		var (
			e      expense.AuditEntry
			action string
			reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AuditorUserID, &action, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = expense.Action(action)
		if reason.Valid {
			e.Reason = &reason.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Totals(ctx context.Context, f expense.SummaryFilter) ([]expense.StatusTotal, []expense.CostCenterTotal, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.UnitID > 0 {
		where = append(where, fmt.Sprintf("t.unit_id = $%d", idx))
		args = append(args, f.UnitID)
		idx++
	}
	if !f.From.IsZero() {
		where = append(where, fmt.Sprintf("t.date >= $%d", idx))
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where = append(where, fmt.Sprintf("t.date <= $%d", idx))
		args = append(args, f.To)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	rows, err := s.db.QueryContext(ctx, `
		select t.status, count(*), coalesce(sum(t.amount), 0)
		from transactions t`+clause+`
		group by t.status
		order by t.status`, args...)
	if err != nil {
		return nil, nil, err
	}
	statuses := []expense.StatusTotal{}
	for rows.Next() {
		var (
			st     expense.StatusTotal
			status string
		)
		if err := rows.Scan(&status, &st.Count, &st.Amount); err != nil {
			rows.Close()
			return nil, nil, err
		}
		st.Status = expense.Status(status)
		statuses = append(statuses, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		select c.id, c.code, c.name, count(*), coalesce(sum(t.amount), 0) as total
		from transactions t
		join cost_centers c on c.id = t.cost_center_id`+clause+`
		group by c.id, c.code, c.name
		order by total desc, c.id`, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	centers := []expense.CostCenterTotal{}
	for rows.Next() {
		var cc expense.CostCenterTotal
		if err := rows.Scan(&cc.CostCenterID, &cc.Code, &cc.Name, &cc.Count, &cc.Amount); err != nil {
			return nil, nil, err
		}
		centers = append(centers, cc)
	}
	return statuses, centers, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
