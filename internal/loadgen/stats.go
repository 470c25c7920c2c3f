package loadgen

import (
	"sync"

	"github.com/shopspring/decimal"

	"prestacao.org/internal/expense"
)

// Counter tallies what a run submitted and decided.
type Counter struct {
	mu        sync.Mutex
	count     map[expense.Status]int64
	amount    map[expense.Status]decimal.Decimal
	submitted int64
}

func (c *Counter) init() {
	if c.count == nil {
		c.count = make(map[expense.Status]int64, len(expense.Statuses))
		c.amount = make(map[expense.Status]decimal.Decimal, len(expense.Statuses))
	}
}

// Submitted records a new PENDING transaction.
func (c *Counter) Submitted(amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.submitted++
	c.count[expense.StatusPending]++
	c.amount[expense.StatusPending] = c.amount[expense.StatusPending].Add(amount)
}

// Decided moves a transaction from PENDING to status.
func (c *Counter) Decided(status expense.Status, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.count[expense.StatusPending]--
	c.amount[expense.StatusPending] = c.amount[expense.StatusPending].Sub(amount)
	c.count[status]++
	c.amount[status] = c.amount[status].Add(amount)
}

func (c *Counter) Total() (int64, decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, a := range c.amount {
		total = total.Add(a)
	}
	return c.submitted, total
}

func (c *Counter) Count(status expense.Status) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[status]
}

// Delta returns after minus before for every status, for checking a run
// against two dashboard summaries.
func Delta(before, after expense.Summary) map[expense.Status]int64 {
	out := make(map[expense.Status]int64, len(expense.Statuses))
	for _, st := range after.ByStatus {
		out[st.Status] += st.Count
	}
	for _, st := range before.ByStatus {
		out[st.Status] -= st.Count
	}
	return out
}
