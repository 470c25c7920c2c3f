package expense

import (
	"context"
	"strings"
)

// DefaultUnits and DefaultCostCenters are installed by SeedReferenceData.
var (
	DefaultUnits = []Unit{
		{Name: "Sede Administrativa", Address: "Rua Principal, 123", ResponsiblePerson: "João Silva"},
		{Name: "Unidade Social Centro", Address: "Av. Central, 456", ResponsiblePerson: "Maria Oliveira"},
	}
	DefaultCostCenters = []CostCenter{
		{Code: "CC-001", Name: "Despesas Administrativas", Description: "Gastos gerais de escritório"},
		{Code: "CC-002", Name: "Alimentação", Description: "Compras de alimentos para doação"},
		{Code: "CC-003", Name: "Manutenção Predial", Description: "Reparos e conservação"},
		{Code: "CC-004", Name: "Transporte", Description: "Combustível e manutenção de veículos"},
	}
)

// SeedResult counts the records created by SeedReferenceData.
type SeedResult struct {
	Units       int
	CostCenters int
}

// SeedReferenceData creates missing units (matched by name) and cost centers
// (matched by code). Running it again is a no-op.
func (s *Service) SeedReferenceData(ctx context.Context, units []Unit, costCenters []CostCenter) (SeedResult, error) {
	var res SeedResult

	existingUnits, err := s.store.ListUnits(ctx)
	if err != nil {
		return res, err
	}
	names := make(map[string]struct{}, len(existingUnits))
	for _, u := range existingUnits {
		names[strings.ToLower(u.Name)] = struct{}{}
	}
	for _, u := range units {
		if _, ok := names[strings.ToLower(strings.TrimSpace(u.Name))]; ok {
			continue
		}
		if _, err := s.CreateUnit(ctx, u); err != nil {
			return res, err
		}
		names[strings.ToLower(strings.TrimSpace(u.Name))] = struct{}{}
		res.Units++
	}

	existingCCs, err := s.store.ListCostCenters(ctx)
	if err != nil {
		return res, err
	}
	codes := make(map[string]struct{}, len(existingCCs))
	for _, c := range existingCCs {
		codes[c.Code] = struct{}{}
	}
	for _, c := range costCenters {
		if _, ok := codes[strings.TrimSpace(c.Code)]; ok {
			continue
		}
		if _, err := s.CreateCostCenter(ctx, c); err != nil {
			return res, err
		}
		codes[strings.TrimSpace(c.Code)] = struct{}{}
		res.CostCenters++
	}
	return res, nil
}
