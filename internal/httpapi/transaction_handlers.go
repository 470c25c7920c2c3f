package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"prestacao.org/internal/audit"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/obs"
	"prestacao.org/internal/stream"
	"prestacao.org/internal/uploads"
)

// multipart parts beyond this are spooled to disk by mime/multipart
const multipartMemory = 8 << 20

var attachmentFields = []string{"invoice", "receipt"}

// amountValue accepts both JSON numbers and strings ("1234,56").
type amountValue string

func (v *amountValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = amountValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or string")
	}
	*v = amountValue(n.String())
	return nil
}

type transactionRequest struct {
	UnitID       int64       `json:"unitId"`
	CostCenterID int64       `json:"costCenterId"`
	Amount       amountValue `json:"amount"`
	Date         string      `json:"date"`
	SupplierName string      `json:"supplierName"`
	SupplierCNPJ string      `json:"supplierCnpj"`
	Description  string      `json:"description"`
}

type statusRequest struct {
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTransactions(w, r)
	case http.MethodPost:
		a.createTransaction(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := a.expenses.GetTransaction(r.Context(), id)
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := expense.Filter{
		Status: expense.Status(q.Get("status")),
		Search: q.Get("q"),
	}
	var err error
	if f.UnitID, err = optionalID(q.Get("unitId")); err != nil {
		writeError(w, r, http.StatusBadRequest, "unitId "+err.Error())
		return
	}
	if f.CostCenterID, err = optionalID(q.Get("costCenterId")); err != nil {
		writeError(w, r, http.StatusBadRequest, "costCenterId "+err.Error())
		return
	}

	txs, err := a.expenses.ListTransactions(r.Context(), f)
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var (
		in    expense.TransactionInput
		files map[string]*multipart.FileHeader
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		var err error
		if in, err = transactionInputFromForm(r.MultipartForm); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		files = make(map[string]*multipart.FileHeader, len(attachmentFields))
		for _, field := range attachmentFields {
			if fhs := r.MultipartForm.File[field]; len(fhs) > 0 {
				files[field] = fhs[0]
			}
		}
	} else {
		var req transactionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		in = expense.TransactionInput{
			UnitID:       req.UnitID,
			CostCenterID: req.CostCenterID,
			Amount:       string(req.Amount),
			Date:         req.Date,
			SupplierName: req.SupplierName,
			SupplierCNPJ: req.SupplierCNPJ,
			Description:  req.Description,
		}
	}

	nt, err := a.expenses.PrepareTransaction(r.Context(), in, p.UserID)
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}

	stored, err := a.saveAttachments(files)
	if err != nil {
		if errors.Is(err, uploads.ErrTooLarge) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		handleExpenseError(w, r, err)
		return
	}
	if s, ok := stored["invoice"]; ok {
		nt.InvoiceURL = &s.URL
	}
	if s, ok := stored["receipt"]; ok {
		nt.ReceiptURL = &s.URL
	}

	tx, err := a.expenses.CreateTransaction(r.Context(), nt)
	if err != nil {
		a.removeAttachments(stored)
		handleExpenseError(w, r, err)
		return
	}

	obs.RecordTransactionCreated()
	for _, s := range stored {
		obs.RecordUploadBytes(s.Size)
	}
	_ = audit.LogEvent(r.Context(), "transaction.created", map[string]any{
		"transaction_id": tx.ID,
		"unit_id":        tx.UnitID,
		"cost_center_id": tx.CostCenterID,
		"amount":         tx.Amount.StringFixed(2),
		"attachments":    len(stored),
	})
	a.publish(stream.Event{
		Type:          stream.TypeCreated,
		TransactionID: tx.ID,
		UnitID:        tx.UnitID,
		Status:        string(tx.Status),
		ActorUserID:   p.UserID,
		Amount:        &tx.Amount,
	})

	w.Header().Set("Location", "/transactions/"+strconv.FormatInt(tx.ID, 10))
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
		return
	}

	tx, entry, err := a.expenses.RequestStatusChange(r.Context(), expense.StatusChange{
		TransactionID:   id,
		Status:          expense.Status(req.Status),
		ActorUserID:     p.UserID,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}

	obs.RecordDecision(string(entry.Action))
	_ = audit.LogEvent(r.Context(), "transaction.decided", map[string]any{
		"transaction_id": tx.ID,
		"action":         string(entry.Action),
		"audit_id":       entry.ID,
	})
	a.publish(stream.Event{
		Type:          stream.TypeDecided,
		TransactionID: tx.ID,
		UnitID:        tx.UnitID,
		Status:        string(tx.Status),
		Action:        string(entry.Action),
		ActorUserID:   p.UserID,
		Amount:        &tx.Amount,
	})

	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleTransactionAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := a.expenses.AuditTrail(r.Context(), id)
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func transactionInputFromForm(form *multipart.Form) (expense.TransactionInput, error) {
	value := func(key string) string {
		if vs := form.Value[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	in := expense.TransactionInput{
		Amount:       value("amount"),
		Date:         value("date"),
		SupplierName: value("supplierName"),
		SupplierCNPJ: value("supplierCnpj"),
		Description:  value("description"),
	}
	var err error
	if in.UnitID, err = optionalID(value("unitId")); err != nil {
		return expense.TransactionInput{}, fmt.Errorf("unitId %w", err)
	}
	if in.CostCenterID, err = optionalID(value("costCenterId")); err != nil {
		return expense.TransactionInput{}, fmt.Errorf("costCenterId %w", err)
	}
	return in, nil
}

// saveAttachments writes every file or none: on failure the ones already
// written are removed.
func (a *API) saveAttachments(files map[string]*multipart.FileHeader) (map[string]uploads.Stored, error) {
	stored := make(map[string]uploads.Stored, len(files))
	if len(files) == 0 {
		return stored, nil
	}
	if a.uploads == nil {
		return nil, fmt.Errorf("%w: uploads are disabled", expense.ErrInvalidInput)
	}
	for field, fh := range files {
		if fh.Size > a.uploads.MaxBytes() {
			return nil, fmt.Errorf("%s: %w", field, uploads.ErrTooLarge)
		}
	}
	for _, field := range attachmentFields {
		fh, ok := files[field]
		if !ok {
			continue
		}
		s, err := a.saveOne(fh)
		if err != nil {
			a.removeAttachments(stored)
			if errors.Is(err, uploads.ErrTooLarge) {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			return nil, err
		}
		stored[field] = s
	}
	return stored, nil
}

func (a *API) saveOne(fh *multipart.FileHeader) (uploads.Stored, error) {
	f, err := fh.Open()
	if err != nil {
		return uploads.Stored{}, err
	}
	defer f.Close()
	return a.uploads.Save(fh.Filename, f)
}

func (a *API) removeAttachments(stored map[string]uploads.Stored) {
	for _, s := range stored {
		if err := a.uploads.Remove(s.Name); err != nil {
			obs.LogError("remove orphaned upload", err, map[string]any{"file": s.Name})
		}
	}
}

func (a *API) publish(evt stream.Event) {
	if a.stream != nil {
		a.stream.Publish(evt)
	}
}

func bodyErrorMessage(err error) string {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Sprintf("request body exceeds %d bytes", mbe.Limit)
	}
	return err.Error()
}
