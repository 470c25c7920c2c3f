package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/httpapi"
	"prestacao.org/internal/store/memory"
	"prestacao.org/internal/uploads"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	authSvc, err := auth.NewService(store, auth.WithSecret("client-test"))
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if _, _, err := authSvc.EnsureUser(ctx, "admin@example.org", "admin123", auth.RoleAdmin); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	expenses := expense.NewService(store)
	if _, err := expenses.SeedReferenceData(ctx, expense.DefaultUnits, expense.DefaultCostCenters); err != nil {
		t.Fatalf("seed: %v", err)
	}
	files, err := uploads.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{}, "test", httpapi.Deps{
		Auth:     authSvc,
		Expenses: expenses,
		Uploads:  files,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL+"/", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.ListUnits(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("anonymous call err = %v", err)
	}
	if _, err := c.Login(ctx, "admin@example.org", "nope"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("bad login err = %v", err)
	}
	sess, err := c.Login(ctx, "admin@example.org", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.User.Role != auth.RoleAdmin || c.Token() == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	units, err := c.ListUnits(ctx)
	if err != nil || len(units) == 0 {
		t.Fatalf("units: %v %v", units, err)
	}
	ccs, err := c.ListCostCenters(ctx)
	if err != nil || len(ccs) == 0 {
		t.Fatalf("cost centers: %v %v", ccs, err)
	}

	tx, err := c.CreateTransaction(ctx, TransactionRequest{
		UnitID:       units[0].ID,
		CostCenterID: ccs[0].ID,
		Amount:       "250,00",
		Date:         "2024-09-01",
		SupplierName: "Mercado Bom Preço",
		Invoice:      &Attachment{Filename: "nf.pdf", Body: strings.NewReader("%PDF invoice")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.InvoiceURL == nil || tx.ReceiptURL != nil || tx.Status != expense.StatusPending {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	resp, err := srv.Client().Get(srv.URL + *tx.InvoiceURL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "%PDF invoice" {
		t.Fatalf("downloaded %q", body)
	}

	if _, err := c.UpdateStatus(ctx, tx.ID, expense.StatusRejected, "", 0); !errors.Is(err, expense.ErrInvalidInput) {
		t.Fatalf("reject without reason err = %v", err)
	}
	decided, err := c.UpdateStatus(ctx, tx.ID, expense.StatusRejected, "valor acima do orçamento", tx.Version)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decided.Status != expense.StatusRejected {
		t.Fatalf("status = %s", decided.Status)
	}
	if _, err := c.UpdateStatus(ctx, tx.ID, expense.StatusApproved, "", 0); !errors.Is(err, expense.ErrConflict) {
		t.Fatalf("second decision err = %v", err)
	}

	trail, err := c.AuditTrail(ctx, tx.ID)
	if err != nil || len(trail) != 1 || trail[0].Action != expense.ActionReject {
		t.Fatalf("audit trail: %+v %v", trail, err)
	}

	list, err := c.ListTransactions(ctx, expense.Filter{Status: expense.StatusRejected, UnitID: units[0].ID})
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}

	sum, err := c.Summary(ctx, expense.SummaryFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalCount != 1 || sum.ApprovalRate != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	if _, err := c.GetTransaction(ctx, 9999); !errors.Is(err, expense.ErrNotFound) {
		t.Fatalf("missing transaction err = %v", err)
	}
	if err := c.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func TestMapAPIError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"error":"invalid input: amount is required"}`, expense.ErrInvalidInput},
		{"unauthorized", http.StatusUnauthorized, `{"error":"missing bearer token"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":"invalid token"}`, ErrUnauthorized},
		{"not found", http.StatusNotFound, `{"error":"not found"}`, expense.ErrNotFound},
		{"conflict", http.StatusConflict, `{"error":"conflict"}`, expense.ErrConflict},
		{"referenced", http.StatusConflict, `{"error":"record is referenced by existing transactions"}`, expense.ErrReferenced},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			rec.WriteHeader(tc.status)
			_, _ = rec.WriteString(tc.body)
			got := mapAPIError(rec.Result())
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapAPIError() = %v, want %v", got, tc.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	_, _ = rec.WriteString("upstream down")
	err := mapAPIError(rec.Result())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" || errors.Unwrap(err) != nil {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("ftp://example.org"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}
