package httpapi

import (
	"net/http"
	"strings"
	"time"

	"prestacao.org/internal/expense"
)

// handleSummary serves GET /dashboard/summary?unitId=&from=&to=.
// A date-only "to" covers the whole day.
func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()

	var (
		f   expense.SummaryFilter
		err error
	)
	if f.UnitID, err = optionalID(q.Get("unitId")); err != nil {
		writeError(w, r, http.StatusBadRequest, "unitId "+err.Error())
		return
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if f.From, err = expense.ParseDate(raw); err != nil {
			handleExpenseError(w, r, err)
			return
		}
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if f.To, err = expense.ParseDate(raw); err != nil {
			handleExpenseError(w, r, err)
			return
		}
		if len(raw) == len(time.DateOnly) {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}

	sum, err := a.expenses.Summary(r.Context(), f)
	if err != nil {
		handleExpenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
