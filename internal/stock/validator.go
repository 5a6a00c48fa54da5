// Package stock holds the advisory view of inventory: a cached snapshot of products,
// the change broker that keeps it fresh and the validator run before settlement.
package stock

import (
	"github.com/diewo77/go-pos/internal/cart"
	"github.com/diewo77/go-pos/internal/models"
)

// ProblemKind classifies a validation problem.
type ProblemKind string

const (
	ProblemMissing      ProblemKind = "missing"
	ProblemInsufficient ProblemKind = "insufficient"
)

// Problem describes one cart line the snapshot cannot satisfy.
type Problem struct {
	Line          int         `json:"line"`
	BaseProductID string      `json:"baseProductId"`
	VariantID     string      `json:"variantId"`
	Kind          ProblemKind `json:"kind"`
	Requested     int         `json:"requested"`
	Available     int         `json:"available"`
}

type Result struct {
	OK       bool      `json:"ok"`
	Problems []Problem `json:"problems,omitempty"`
}

// Snapshot is a point-in-time copy of product records keyed by product id.
type Snapshot struct {
	products map[string]*models.Product
}

// NewSnapshot builds a snapshot from explicit records.
func NewSnapshot(products ...*models.Product) Snapshot {
	s := Snapshot{products: make(map[string]*models.Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// Available returns the snapshot quantity of a variant.
func (s Snapshot) Available(productID, variantID string) (int, bool) {
	p, ok := s.products[productID]
	if !ok {
		return 0, false
	}
	i := p.FindVariant(variantID)
	if i < 0 {
		return 0, false
	}
	return p.Variants[i].Quantity, true
}

// Validate checks every stock-backed line against the snapshot. Lines for the
// same variant are summed before the comparison and the problem is reported on
// the line where the running total first exceeds what is available.
// A passing result does not guarantee settlement succeeds.
func Validate(lines []cart.Line, snap Snapshot) Result {
	type key struct{ product, variant string }
	requested := make(map[key]int)
	reported := make(map[key]bool)
	var problems []Problem

	for i, l := range lines {
		if !l.StockBacked {
			continue
		}
		k := key{l.BaseProductID, l.VariantID}
		requested[k] += l.Qty
		if reported[k] {
			continue
		}
		avail, ok := snap.Available(l.BaseProductID, l.VariantID)
		switch {
		case !ok:
			problems = append(problems, Problem{Line: i, BaseProductID: l.BaseProductID, VariantID: l.VariantID, Kind: ProblemMissing, Requested: requested[k]})
			reported[k] = true
		case avail < requested[k]:
			problems = append(problems, Problem{Line: i, BaseProductID: l.BaseProductID, VariantID: l.VariantID, Kind: ProblemInsufficient, Requested: requested[k], Available: avail})
			reported[k] = true
		}
	}
	return Result{OK: len(problems) == 0, Problems: problems}
}

// ProductIDs returns the distinct product ids of the stock-backed lines in order.
func ProductIDs(lines []cart.Line) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range lines {
		if !l.StockBacked || seen[l.BaseProductID] {
			continue
		}
		seen[l.BaseProductID] = true
		ids = append(ids, l.BaseProductID)
	}
	return ids
}
