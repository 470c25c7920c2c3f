package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"prestacao.org/internal/audit"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/obs"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleExpenseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, expense.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, expense.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, expense.ErrReferenced), errors.Is(err, expense.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.LogError("request failed", err, map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": audit.RequestID(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// pathID parses the {id} wildcard; ok is false after a 400 was written.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return parseID(w, r, r.PathValue("id"), "id")
}

func parseID(w http.ResponseWriter, r *http.Request, raw, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// optionalID parses an optional numeric query or form value; "" yields 0.
func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return id, nil
}
