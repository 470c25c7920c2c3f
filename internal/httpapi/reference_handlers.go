package httpapi

import (
	"net/http"
	"strconv"

	"prestacao.org/internal/audit"
	"prestacao.org/internal/expense"
)

type unitRequest struct {
	Name              string `json:"name"`
	Address           string `json:"address"`
	ResponsiblePerson string `json:"responsiblePerson"`
}

type costCenterRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) handleUnits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		units, err := a.expenses.ListUnits(r.Context())
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, units)
	case http.MethodPost:
		var req unitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		u, err := a.expenses.CreateUnit(r.Context(), expense.Unit{
			Name:              req.Name,
			Address:           req.Address,
			ResponsiblePerson: req.ResponsiblePerson,
		})
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "unit.created", map[string]any{"unit_id": u.ID, "name": u.Name})
		w.Header().Set("Location", "/units/"+strconv.FormatInt(u.ID, 10))
		writeJSON(w, http.StatusCreated, u)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		u, err := a.expenses.GetUnit(r.Context(), id)
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodPut:
		var upd expense.UnitUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		u, err := a.expenses.UpdateUnit(r.Context(), id, upd)
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "unit.updated", map[string]any{"unit_id": u.ID})
		writeJSON(w, http.StatusOK, u)
	case http.MethodDelete:
		if err := a.expenses.DeleteUnit(r.Context(), id); err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "unit.deleted", map[string]any{"unit_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleCostCenters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ccs, err := a.expenses.ListCostCenters(r.Context())
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ccs)
	case http.MethodPost:
		var req costCenterRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		c, err := a.expenses.CreateCostCenter(r.Context(), expense.CostCenter{
			Code:        req.Code,
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "cost_center.created", map[string]any{"cost_center_id": c.ID, "code": c.Code})
		w.Header().Set("Location", "/cost-centers/"+strconv.FormatInt(c.ID, 10))
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCostCenter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := a.expenses.GetCostCenter(r.Context(), id)
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut:
		var upd expense.CostCenterUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, bodyErrorMessage(err))
			return
		}
		c, err := a.expenses.UpdateCostCenter(r.Context(), id, upd)
		if err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "cost_center.updated", map[string]any{"cost_center_id": c.ID})
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := a.expenses.DeleteCostCenter(r.Context(), id); err != nil {
			handleExpenseError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "cost_center.deleted", map[string]any{"cost_center_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
