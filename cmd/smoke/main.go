package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"prestacao.org/internal/client"
	"prestacao.org/internal/expense"
)

func main() {
	log.SetFlags(0)
	var (
		baseURL  = flag.String("base-url", envOr("SMOKE_BASE_URL", "http://localhost:3000"), "API base URL")
		email    = flag.String("email", os.Getenv("ADMIN_EMAIL"), "Login email")
		password = flag.String("password", os.Getenv("ADMIN_PASSWORD"), "Login password")
	)
	flag.Parse()

	c, err := client.New(*baseURL)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, cancel := client.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.Ready(ctx); err != nil {
		log.Fatalf("readyz: %v", err)
	}
	if _, err := c.Login(ctx, *email, *password); err != nil {
		log.Fatalf("login: %v", err)
	}

	units, err := c.ListUnits(ctx)
	if err != nil || len(units) == 0 {
		log.Fatalf("units: %v (got %d)", err, len(units))
	}
	ccs, err := c.ListCostCenters(ctx)
	if err != nil || len(ccs) == 0 {
		log.Fatalf("cost centers: %v (got %d)", err, len(ccs))
	}

	approve := mustCreate(ctx, c, units[0].ID, ccs[0].ID, "1234,56", "smoke approve")
	reject := mustCreate(ctx, c, units[0].ID, ccs[0].ID, "10.00", "smoke reject")

	if _, err := c.UpdateStatus(ctx, approve.ID, expense.StatusApproved, "", approve.Version); err != nil {
		log.Fatalf("approve: %v", err)
	}
	if _, err := c.UpdateStatus(ctx, reject.ID, expense.StatusRejected, "", 0); !errors.Is(err, expense.ErrInvalidInput) {
		log.Fatalf("reject without reason: want invalid input, got %v", err)
	}
	if _, err := c.UpdateStatus(ctx, reject.ID, expense.StatusRejected, "smoke test", 0); err != nil {
		log.Fatalf("reject: %v", err)
	}
	if _, err := c.UpdateStatus(ctx, approve.ID, expense.StatusRejected, "again", 0); !errors.Is(err, expense.ErrConflict) {
		log.Fatalf("second decision: want conflict, got %v", err)
	}

	for id, want := range map[int64]expense.Action{approve.ID: expense.ActionApprove, reject.ID: expense.ActionReject} {
		trail, err := c.AuditTrail(ctx, id)
		if err != nil {
			log.Fatalf("audit %d: %v", id, err)
		}
		if len(trail) != 1 || trail[0].Action != want {
			log.Fatalf("audit %d: unexpected trail %+v", id, trail)
		}
	}

	if _, err := c.Summary(ctx, expense.SummaryFilter{}); err != nil {
		log.Fatalf("summary: %v", err)
	}

	fmt.Printf("smoke test passed: transactions=%d,%d\n", approve.ID, reject.ID)
}

func mustCreate(ctx context.Context, c *client.Client, unitID, ccID int64, amount, desc string) expense.Transaction {
	tx, err := c.CreateTransaction(ctx, client.TransactionRequest{
		UnitID:       unitID,
		CostCenterID: ccID,
		Amount:       amount,
		Date:         time.Now().UTC().Format(time.DateOnly),
		SupplierName: "Smoke Fornecedor",
		Description:  desc,
		Invoice:      &client.Attachment{Filename: "smoke.txt", Body: strings.NewReader("smoke")},
	})
	if err != nil {
		log.Fatalf("create %q: %v", desc, err)
	}
	if tx.Status != expense.StatusPending || tx.InvoiceURL == nil {
		log.Fatalf("create %q: unexpected %+v", desc, tx)
	}
	return tx
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
