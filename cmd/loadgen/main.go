package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"prestacao.org/internal/client"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/loadgen"
)

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:3000", "API base URL")
		email    = flag.String("email", os.Getenv("ADMIN_EMAIL"), "Login email")
		password = flag.String("password", os.Getenv("ADMIN_PASSWORD"), "Login password")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		duration = flag.Duration("duration", 30*time.Second, "Duration of the run")
		racers   = flag.Int("racers", 2, "Concurrent deciders per transaction; all but one must get 409")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching load run: base=%s workers=%d duration=%s", *baseURL, *workers, *duration)

	c, err := client.New(*baseURL)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	setupCtx, cancel := client.WithTimeout(ctx, 10*time.Second)
	if _, err := c.Login(setupCtx, *email, *password); err != nil {
		cancel()
		log.Fatalf("login: %v", err)
	}
	units, err := c.ListUnits(setupCtx)
	if err != nil {
		cancel()
		log.Fatalf("units: %v", err)
	}
	ccs, err := c.ListCostCenters(setupCtx)
	if err != nil {
		cancel()
		log.Fatalf("cost centers: %v", err)
	}
	before, err := c.Summary(setupCtx, expense.SummaryFilter{})
	cancel()
	if err != nil {
		log.Fatalf("summary: %v", err)
	}

	gen := loadgen.NewGenerator(time.Now().UnixNano(), units, ccs)

	var (
		counter     loadgen.Counter
		failures    int64
		conflicts   int64
		doubleWins  int64
		rateLimited int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				if ctx.Err() != nil {
					return
				}
				tx, err := c.CreateTransaction(ctx, gen.NextTransaction())
				if err != nil {
					var apiErr *client.APIError
					if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
						atomic.AddInt64(&rateLimited, 1)
					} else {
						atomic.AddInt64(&failures, 1)
						log.Printf("worker %d create: %v", id, err)
					}
					time.Sleep(200 * time.Millisecond)
					continue
				}
				counter.Submitted(tx.Amount)

				status, reason := gen.NextDecision()
				wins := decide(ctx, c, tx.ID, status, reason, *racers, &conflicts, &failures)
				switch {
				case wins == 1:
					counter.Decided(status, tx.Amount)
				case wins > 1:
					atomic.AddInt64(&doubleWins, 1)
					log.Printf("worker %d: transaction %d decided %d times", id, tx.ID, wins)
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	submitted, volume := counter.Total()
	log.Printf("Run complete: %d submitted (%s), approved=%d rejected=%d pending=%d, conflicts=%d failures=%d rate_limited=%d",
		submitted, volume.StringFixed(2),
		counter.Count(expense.StatusApproved), counter.Count(expense.StatusRejected), counter.Count(expense.StatusPending),
		conflicts, failures, rateLimited)

	if doubleWins > 0 {
		log.Fatalf("FAIL: %d transactions accepted more than one decision", doubleWins)
	}

	checkCtx, cancelCheck := client.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCheck()
	after, err := c.Summary(checkCtx, expense.SummaryFilter{})
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	delta := loadgen.Delta(before, after)
	decided := delta[expense.StatusApproved] + delta[expense.StatusRejected]
	if want := counter.Count(expense.StatusApproved) + counter.Count(expense.StatusRejected); decided < want {
		log.Fatalf("FAIL: dashboard shows %d new decisions, run recorded %d", decided, want)
	}
	log.Printf("Dashboard delta: %v, approval rate %.2f, total %s", delta, after.ApprovalRate, after.TotalAmount.StringFixed(2))
}

// decide sends the same decision from n goroutines and returns how many succeeded.
func decide(ctx context.Context, c *client.Client, id int64, status expense.Status, reason string, n int, conflicts, failures *int64) int {
	if n < 1 {
		n = 1
	}
	var (
		wg   sync.WaitGroup
		wins int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.UpdateStatus(ctx, id, status, reason, 0)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case errors.Is(err, expense.ErrConflict):
				atomic.AddInt64(conflicts, 1)
			default:
				atomic.AddInt64(failures, 1)
			}
		}()
	}
	wg.Wait()
	return int(wins)
}
