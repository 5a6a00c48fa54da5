// Package cart holds the lines of one sale session and computes its totals.
// It performs no I/O and no stock checks.
package cart

import (
	"errors"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrInvalidPrice    = errors.New("unit price cannot be negative")
)

// Line is one entry of the cart. UnitPrice is a snapshot taken when the line was added.
type Line struct {
	VariantID     string          `json:"variantId"`
	BaseProductID string          `json:"baseProductId"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Qty           int             `json:"qty"`

	// StockBacked is false for lines that are sold without touching inventory,
	// such as quotation lines.
	StockBacked bool `json:"stockBacked"`
}

// Total returns unitPrice × qty.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Totals is the money summary of a cart.
type Totals struct {
	SubTotal decimal.Decimal `json:"subTotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Cart is an ordered sequence of lines owned by a single session.
// It is not safe for concurrent use.
type Cart struct {
	lines []Line
}

func New() *Cart { return &Cart{} }

// AddLine adds qty units of the variant. A line for the same product and variant
// is merged by summing quantities; otherwise a new line is appended. Variant ids
// are only unique within their product.
func (c *Cart) AddLine(product *models.Product, variant models.Variant, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if variant.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	productID := variant.BaseProductID
	if product != nil {
		productID = product.ID
	}
	if i := c.indexOf(productID, variant.ID); i >= 0 {
		c.lines[i].Qty += qty
		return nil
	}
	line := Line{
		VariantID:     variant.ID,
		BaseProductID: productID,
		Name:          variant.Name,
		UnitPrice:     variant.UnitPrice,
		Qty:           qty,
		StockBacked:   true,
	}
	if product != nil {
		line.Category = product.Category
		if line.Name == "" {
			line.Name = product.Name
		} else {
			line.Name = product.Name + " - " + line.Name
		}
	}
	c.lines = append(c.lines, line)
	return nil
}

// AddCustomLine appends a line that is not backed by stock. Custom lines are never merged.
func (c *Cart) AddCustomLine(name string, unitPrice decimal.Decimal, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	c.lines = append(c.lines, Line{Name: name, UnitPrice: unitPrice, Qty: qty})
	return nil
}

// RemoveLine removes the line at index. An out of range index is ignored.
func (c *Cart) RemoveLine(index int) {
	if index < 0 || index >= len(c.lines) {
		return
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
}

// SetQuantity replaces the quantity of the line at index; qty <= 0 removes it.
func (c *Cart) SetQuantity(index, qty int) {
	if index < 0 || index >= len(c.lines) {
		return
	}
	if qty <= 0 {
		c.RemoveLine(index)
		return
	}
	c.lines[index].Qty = qty
}

// Reset drops every line.
func (c *Cart) Reset() { c.lines = nil }

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Lines returns a copy of the cart lines in order.
func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

// Totals computes the cart totals with the default tax rate.
func (c *Cart) Totals() Totals {
	return ComputeTotals(c.lines, models.DefaultTaxRate)
}

// TotalsWithRate computes the cart totals with the given tax rate.
func (c *Cart) TotalsWithRate(taxRate decimal.Decimal) Totals {
	return ComputeTotals(c.lines, taxRate)
}

// ComputeTotals returns subTotal = Σ(unitPrice × qty), tax = round(subTotal × rate, 2)
// and total = subTotal + tax. It is pure.
func ComputeTotals(lines []Line, taxRate decimal.Decimal) Totals {
	sub := decimal.Zero
	for _, l := range lines {
		sub = sub.Add(l.Total())
	}
	sub = models.RoundMoney(sub)
	tax := models.RoundMoney(sub.Mul(taxRate))
	return Totals{SubTotal: sub, Tax: tax, Total: sub.Add(tax)}
}

// indexOf finds the stock-backed line for the variant of productID.
func (c *Cart) indexOf(productID, variantID string) int {
	for i, l := range c.lines {
		if l.StockBacked && l.BaseProductID == productID && l.VariantID == variantID {
			return i
		}
	}
	return -1
}
