package cart

import (
	"errors"
	"testing"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/shopspring/decimal"
)

func fixture() (*models.Product, models.Variant, models.Variant) {
	p := &models.Product{ID: "P1", Name: "Shirt", Category: "apparel"}
	s := models.Variant{ID: "V1", Name: "S", UnitPrice: decimal.NewFromInt(100), Quantity: 5, BaseProductID: "P1"}
	m := models.Variant{ID: "V2", Name: "M", UnitPrice: decimal.RequireFromString("49.99"), Quantity: 2, BaseProductID: "P1"}
	return p, s, m
}

func TestAddLineMergesSameVariant(t *testing.T) {
	p, s, m := fixture()
	c := New()
	if err := c.AddLine(p, s, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddLine(p, m, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddLine(p, s, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines got %d", len(lines))
	}
	if lines[0].Qty != 5 {
		t.Errorf("merged qty = %d, want 5", lines[0].Qty)
	}
	if lines[0].Name != "Shirt - S" || lines[0].Category != "apparel" || !lines[0].StockBacked {
		t.Errorf("unexpected line snapshot: %+v", lines[0])
	}
}

func TestAddLineKeepsSameVariantIDOfDifferentProductsApart(t *testing.T) {
	shirt := &models.Product{ID: "P-SHIRT", Name: "Shirt", Category: "apparel"}
	capProduct := &models.Product{ID: "P-CAP", Name: "Cap", Category: "apparel"}
	c := New()
	if err := c.AddLine(shirt, models.Variant{ID: "M", Name: "Medium", UnitPrice: decimal.NewFromInt(100), BaseProductID: "P-SHIRT"}, 1); err != nil {
		t.Fatalf("add shirt: %v", err)
	}
	if err := c.AddLine(capProduct, models.Variant{ID: "M", Name: "Medium", UnitPrice: decimal.NewFromInt(20), BaseProductID: "P-CAP"}, 1); err != nil {
		t.Fatalf("add cap: %v", err)
	}
	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines got %d: %+v", len(lines), lines)
	}
	if lines[0].BaseProductID != "P-SHIRT" || lines[1].BaseProductID != "P-CAP" || lines[1].Qty != 1 {
		t.Errorf("unexpected lines: %+v", lines)
	}
	if got := c.TotalsWithRate(decimal.Zero).SubTotal; !got.Equal(decimal.NewFromInt(120)) {
		t.Errorf("subTotal = %s, want 120", got)
	}
}

func TestAddLineDoesNotCheckStock(t *testing.T) {
	p, _, m := fixture()
	c := New()
	if err := c.AddLine(p, m, 10); err != nil {
		t.Fatalf("expected purely additive add, got %v", err)
	}
}

func TestAddLineRejectsNonPositiveQuantity(t *testing.T) {
	p, s, _ := fixture()
	c := New()
	for _, qty := range []int{0, -1} {
		if err := c.AddLine(p, s, qty); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("qty %d: expected ErrInvalidQuantity got %v", qty, err)
		}
	}
	if !c.IsEmpty() {
		t.Fatalf("cart should stay empty")
	}
}

func TestCustomLinesAreNotMerged(t *testing.T) {
	c := New()
	_ = c.AddCustomLine("Quotation Q-1", decimal.NewFromInt(10), 1)
	_ = c.AddCustomLine("Quotation Q-1", decimal.NewFromInt(10), 1)
	if c.Len() != 2 {
		t.Fatalf("expected 2 custom lines got %d", c.Len())
	}
	if c.Lines()[0].StockBacked {
		t.Errorf("custom line must not be stock backed")
	}
}

func TestRemoveLineClampsIndex(t *testing.T) {
	p, s, m := fixture()
	c := New()
	_ = c.AddLine(p, s, 1)
	_ = c.AddLine(p, m, 1)

	c.RemoveLine(5)
	c.RemoveLine(-1)
	if c.Len() != 2 {
		t.Fatalf("out of range remove changed cart: %d lines", c.Len())
	}
	c.RemoveLine(0)
	if c.Len() != 1 || c.Lines()[0].VariantID != "V2" {
		t.Fatalf("unexpected lines after remove: %+v", c.Lines())
	}
}

func TestSetQuantity(t *testing.T) {
	p, s, _ := fixture()
	c := New()
	_ = c.AddLine(p, s, 1)
	c.SetQuantity(0, 4)
	if c.Lines()[0].Qty != 4 {
		t.Fatalf("qty = %d, want 4", c.Lines()[0].Qty)
	}
	c.SetQuantity(0, 0)
	if !c.IsEmpty() {
		t.Fatalf("qty 0 should remove the line")
	}
}

func TestTotals(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
		sub   string
		tax   string
		total string
	}{
		{"empty", nil, "0", "0", "0"},
		{"single", []Line{{UnitPrice: decimal.NewFromInt(100), Qty: 1}}, "100", "12", "112"},
		{"five units", []Line{{UnitPrice: decimal.NewFromInt(100), Qty: 5}}, "500", "60", "560"},
		{"rounded tax", []Line{{UnitPrice: decimal.RequireFromString("49.99"), Qty: 1}}, "49.99", "6", "55.99"},
		{"mixed", []Line{
			{UnitPrice: decimal.RequireFromString("19.95"), Qty: 3},
			{UnitPrice: decimal.RequireFromString("0.99"), Qty: 7},
		}, "66.78", "8.01", "74.79"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(tt.lines, models.DefaultTaxRate)
			if !got.SubTotal.Equal(decimal.RequireFromString(tt.sub)) {
				t.Errorf("SubTotal = %s, want %s", got.SubTotal, tt.sub)
			}
			if !got.Tax.Equal(decimal.RequireFromString(tt.tax)) {
				t.Errorf("Tax = %s, want %s", got.Tax, tt.tax)
			}
			if !got.Total.Equal(decimal.RequireFromString(tt.total)) {
				t.Errorf("Total = %s, want %s", got.Total, tt.total)
			}
			if !got.Total.Equal(got.SubTotal.Add(got.Tax)) {
				t.Errorf("total != subTotal + tax")
			}
		})
	}
}

func TestTotalsDeterministic(t *testing.T) {
	p, s, m := fixture()
	c := New()
	_ = c.AddLine(p, s, 2)
	_ = c.AddLine(p, m, 3)
	a, b := c.Totals(), c.Totals()
	if !a.Total.Equal(b.Total) || !a.SubTotal.Equal(b.SubTotal) {
		t.Fatalf("totals not deterministic: %+v vs %+v", a, b)
	}
}
