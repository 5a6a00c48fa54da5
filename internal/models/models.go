package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-pos/validation"
	"github.com/shopspring/decimal"
)

// DefaultTaxRate is the sales tax used when TAX_RATE is not configured (12%).
var DefaultTaxRate = decimal.New(12, -2)

// RoundMoney rounds an amount to 2 decimal places, the precision of every persisted monetary field.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Product is the catalogue record. It owns its variant list; the list is stored
// embedded in the product row so one read returns the authoritative stock of every variant.
type Product struct {
	ID        string    `gorm:"primaryKey;size:64" json:"productId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name     string `gorm:"size:255;not null" json:"name"`
	Category string `gorm:"size:100;index;not null" json:"category"`

	Variants []Variant `gorm:"serializer:json;type:text" json:"variants"`

	// Quantity is the sum of every variant quantity.
	Quantity int `gorm:"not null;default:0" json:"quantity"`

	// Version increases on every write and is the optimistic concurrency token.
	Version int64 `gorm:"not null;default:0" json:"version"`

	CustomFields map[string]any `gorm:"serializer:json;type:text" json:"customFields,omitempty"`
}

// Variant is a sellable unit of a product. It carries a back reference to its product
// but is owned by the Product's variant list.
type Variant struct {
	ID            string          `json:"variantId"`
	Name          string          `json:"name,omitempty"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Quantity      int             `json:"quantity"`
	RestockLevel  int             `json:"restockLevel"`
	BaseProductID string          `json:"baseProductId"`

	CustomFields map[string]any `json:"customFields,omitempty"`
}

// FindVariant returns the index of the variant with the given id, or -1.
func (p *Product) FindVariant(variantID string) int {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return i
		}
	}
	return -1
}

// RecomputeQuantity sets the aggregate quantity to the sum over all variants.
func (p *Product) RecomputeQuantity() {
	total := 0
	for _, v := range p.Variants {
		total += v.Quantity
	}
	p.Quantity = total
}

// Clone returns a deep copy so staged updates never alias a snapshot held elsewhere.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	out.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.CustomFields = cloneMap(v.CustomFields)
		out.Variants[i] = v
	}
	out.CustomFields = cloneMap(p.CustomFields)
	return &out
}

// Normalize trims and validates a product received at the system boundary.
// Variants get their back reference forced to the owning product and the
// aggregate quantity is recomputed.
func (p *Product) Normalize() validation.Violations {
	v := make(validation.Violations)
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)

	validation.Required("productId", p.ID, v)
	validation.Required("name", p.Name, v)
	validation.Required("category", p.Category, v)
	if len(p.Variants) == 0 {
		v.Add("variants", "required")
	}

	seen := make(map[string]bool, len(p.Variants))
	for i := range p.Variants {
		vr := &p.Variants[i]
		prefix := fmt.Sprintf("variants[%d].", i)
		vr.ID = strings.TrimSpace(vr.ID)
		vr.Name = strings.TrimSpace(vr.Name)
		validation.Required(prefix+"variantId", vr.ID, v)
		if vr.ID != "" && seen[vr.ID] {
			v.Add(prefix+"variantId", "duplicate")
		}
		seen[vr.ID] = true
		validation.NonNegativeDecimal(prefix+"unitPrice", vr.UnitPrice, v)
		validation.NonNegativeInt(prefix+"quantity", vr.Quantity, v)
		validation.NonNegativeInt(prefix+"restockLevel", vr.RestockLevel, v)
		vr.UnitPrice = RoundMoney(vr.UnitPrice)
		vr.BaseProductID = p.ID
	}
	p.RecomputeQuantity()
	return v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
