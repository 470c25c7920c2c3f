// Package loadgen produces plausible expense submissions for load and smoke runs.
package loadgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"prestacao.org/internal/client"
	"prestacao.org/internal/expense"
)

type Supplier struct {
	Name string
	CNPJ string
}

type Scenario struct {
	Name         string
	Suppliers    []Supplier
	Descriptions []string
	// Days back from now that expense dates are spread over.
	DateSpread int
}

func NonprofitScenario() Scenario {
	return Scenario{
		Name: "NonprofitMonthlyCycle",
		Suppliers: []Supplier{
			{Name: "Papelaria Central", CNPJ: "12.345.678/0001-90"},
			{Name: "Mercado Bom Preço", CNPJ: "23.456.789/0001-01"},
			{Name: "Posto Avenida", CNPJ: "34.567.890/0001-12"},
			{Name: "Construmais Materiais", CNPJ: "45.678.901/0001-23"},
		},
		Descriptions: []string{
			"Material de escritório",
			"Cestas básicas para doação",
			"Combustível da van",
			"Reparo do telhado",
		},
		DateSpread: 60,
	}
}

// Generator is safe for concurrent use.
type Generator struct {
	scenario    Scenario
	units       []int64
	costCenters []int64
	now         func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator draws unit and cost center ids from the given reference data.
func NewGenerator(seed int64, units []expense.Unit, costCenters []expense.CostCenter) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Generator{
		scenario: NonprofitScenario(),
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(seed)),
	}
	for _, u := range units {
		g.units = append(g.units, u.ID)
	}
	for _, c := range costCenters {
		g.costCenters = append(g.costCenters, c.ID)
	}
	return g
}

func (g *Generator) NextTransaction() client.TransactionRequest {
	if len(g.units) == 0 || len(g.costCenters) == 0 {
		panic("loadgen: generator requires units and cost centers")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	sup := g.scenario.Suppliers[g.rnd.Intn(len(g.scenario.Suppliers))]
	cents := int64(g.rnd.Intn(499_900) + 100) // 1.00 - 5000.00
	date := g.now().UTC().AddDate(0, 0, -g.rnd.Intn(g.scenario.DateSpread+1))
	return client.TransactionRequest{
		UnitID:       g.units[g.rnd.Intn(len(g.units))],
		CostCenterID: g.costCenters[g.rnd.Intn(len(g.costCenters))],
		Amount:       decimal.New(cents, -2).StringFixed(2),
		Date:         date.Format(time.DateOnly),
		SupplierName: sup.Name,
		SupplierCNPJ: sup.CNPJ,
		Description:  g.scenario.Descriptions[g.rnd.Intn(len(g.scenario.Descriptions))],
	}
}

// NextDecision picks APPROVED roughly two times in three; rejections carry a reason.
func (g *Generator) NextDecision() (expense.Status, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rnd.Intn(3) < 2 {
		return expense.StatusApproved, ""
	}
	reasons := []string{"nota fiscal ilegível", "fora do orçamento", "fornecedor não cadastrado"}
	return expense.StatusRejected, reasons[g.rnd.Intn(len(reasons))]
}
