// Package client is a typed HTTP client for the expense API, used by the
// smoke command and integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
)

// ErrUnauthorized is returned for 401/403 responses outside of login.
var ErrUnauthorized = errors.New("client: unauthorized")

// APIError is a non-2xx response. It unwraps to the matching domain sentinel.
type APIError struct {
	Status    int
	Message   string
	RequestID string
	sentinel  error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api: %d %s", e.Status, e.Message)
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.sentinel }

// Session mirrors the login response.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID    int64     `json:"id"`
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	} `json:"user"`
}

// Attachment is a file sent with a new transaction.
type Attachment struct {
	Filename string
	Body     io.Reader
}

// TransactionRequest is the body of POST /transactions.
type TransactionRequest struct {
	UnitID       int64  `json:"unitId"`
	CostCenterID int64  `json:"costCenterId"`
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	SupplierName string `json:"supplierName,omitempty"`
	SupplierCNPJ string `json:"supplierCnpj,omitempty"`
	Description  string `json:"description,omitempty"`

	Invoice *Attachment `json:"-"`
	Receipt *Attachment `json:"-"`
}

// Client talks to one API base URL. It is safe for concurrent use once the
// token is set.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken presets the bearer token instead of calling Login.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url %q", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Token() string { return c.token }

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var sess Session
	err := c.doJSON(ctx, http.MethodPost, "/login", nil, map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			apiErr.sentinel = auth.ErrInvalidCredentials
		}
		return Session{}, err
	}
	c.token = sess.Token
	return sess, nil
}

func (c *Client) ListUnits(ctx context.Context) ([]expense.Unit, error) {
	var out []expense.Unit
	return out, c.doJSON(ctx, http.MethodGet, "/units", nil, nil, &out)
}

func (c *Client) ListCostCenters(ctx context.Context) ([]expense.CostCenter, error) {
	var out []expense.CostCenter
	return out, c.doJSON(ctx, http.MethodGet, "/cost-centers", nil, nil, &out)
}

// CreateTransaction sends JSON, or multipart when an attachment is set.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (expense.Transaction, error) {
	var out expense.Transaction
	if req.Invoice == nil && req.Receipt == nil {
		return out, c.doJSON(ctx, http.MethodPost, "/transactions", nil, req, &out)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"unitId", strconv.FormatInt(req.UnitID, 10)},
		{"costCenterId", strconv.FormatInt(req.CostCenterID, 10)},
		{"amount", req.Amount},
		{"date", req.Date},
		{"supplierName", req.SupplierName},
		{"supplierCnpj", req.SupplierCNPJ},
		{"description", req.Description},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return out, err
		}
	}
	for field, att := range map[string]*Attachment{"invoice": req.Invoice, "receipt": req.Receipt} {
		if att == nil {
			continue
		}
		fw, err := mw.CreateFormFile(field, att.Filename)
		if err != nil {
			return out, err
		}
		if _, err := io.Copy(fw, att.Body); err != nil {
			return out, fmt.Errorf("read %s: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return out, err
	}
	return out, c.do(ctx, http.MethodPost, "/transactions", nil, &buf, mw.FormDataContentType(), &out)
}

func (c *Client) GetTransaction(ctx context.Context, id int64) (expense.Transaction, error) {
	var out expense.Transaction
	return out, c.doJSON(ctx, http.MethodGet, "/transactions/"+strconv.FormatInt(id, 10), nil, nil, &out)
}

func (c *Client) ListTransactions(ctx context.Context, f expense.Filter) ([]expense.Transaction, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.UnitID > 0 {
		q.Set("unitId", strconv.FormatInt(f.UnitID, 10))
	}
	if f.CostCenterID > 0 {
		q.Set("costCenterId", strconv.FormatInt(f.CostCenterID, 10))
	}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	var out []expense.Transaction
	return out, c.doJSON(ctx, http.MethodGet, "/transactions", q, nil, &out)
}

// UpdateStatus approves or rejects a transaction. expectedVersion 0 skips the version check.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status expense.Status, reason string, expectedVersion int64) (expense.Transaction, error) {
	body := map[string]any{"status": string(status)}
	if reason != "" {
		body["reason"] = reason
	}
	if expectedVersion > 0 {
		body["expectedVersion"] = expectedVersion
	}
	var out expense.Transaction
	return out, c.doJSON(ctx, http.MethodPut, "/transactions/"+strconv.FormatInt(id, 10)+"/status", nil, body, &out)
}

func (c *Client) AuditTrail(ctx context.Context, id int64) ([]expense.AuditEntry, error) {
	var out []expense.AuditEntry
	return out, c.doJSON(ctx, http.MethodGet, "/transactions/"+strconv.FormatInt(id, 10)+"/audit", nil, nil, &out)
}

func (c *Client) Summary(ctx context.Context, f expense.SummaryFilter) (expense.Summary, error) {
	q := url.Values{}
	if f.UnitID > 0 {
		q.Set("unitId", strconv.FormatInt(f.UnitID, 10))
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	var out expense.Summary
	return out, c.doJSON(ctx, http.MethodGet, "/dashboard/summary", q, nil, &out)
}

// Ready returns nil when /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/readyz", nil, nil, nil)
}

// Helpers -----------------------------------------------------------------

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, q, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func mapAPIError(resp *http.Response) error {
	var payload struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: payload.Error, RequestID: payload.RequestID}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		apiErr.sentinel = expense.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.sentinel = ErrUnauthorized
	case http.StatusNotFound:
		apiErr.sentinel = expense.ErrNotFound
	case http.StatusConflict:
		if strings.Contains(payload.Error, expense.ErrReferenced.Error()) {
			apiErr.sentinel = expense.ErrReferenced
		} else {
			apiErr.sentinel = expense.ErrConflict
		}
	}
	return apiErr
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
