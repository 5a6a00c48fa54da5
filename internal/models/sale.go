package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at the till.
const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentEWallet = "ewallet"
)

// SaleTransaction is the immutable record of a settled cart.
// It is created exactly once per successful settlement and never updated.
type SaleTransaction struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Timestamp time.Time `gorm:"column:settled_at;not null;index" json:"timestamp"`

	Lines []SaleLine `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE" json:"lines"`

	SubTotal   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subTotal"`
	Tax        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax"`
	Total      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	AmountPaid decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amountPaid"`
	Change     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"change"`

	CustomerName    string         `gorm:"size:255" json:"customerName"`
	CustomerDetails map[string]any `gorm:"serializer:json;type:text" json:"customerDetails,omitempty"`
	PaymentMethod   string         `gorm:"size:50;not null" json:"paymentMethod"`

	CashierID   string `gorm:"size:64;index;not null" json:"cashierId"`
	CashierName string `gorm:"size:255" json:"cashierName"`
	TerminalID  string `gorm:"size:64;index" json:"terminalId,omitempty"`

	// IdempotencyKey lets a terminal replay a checkout it already settled.
	IdempotencyKey *string `gorm:"size:128;uniqueIndex" json:"-"`
}

// SaleLine is a snapshot of one cart line at settlement time.
type SaleLine struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	SaleID   string `gorm:"size:64;index;not null" json:"-"`
	Position int    `gorm:"not null;default:0" json:"-"`

	Name          string          `gorm:"size:255;not null" json:"name"`
	Category      string          `gorm:"size:100" json:"category"`
	BaseProductID string          `gorm:"size:64;index" json:"baseProductId"`
	VariantID     string          `gorm:"size:64" json:"variantId"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Quantity      int             `gorm:"not null" json:"quantity"`
	LineTotal     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"lineTotal"`
	StockBacked   bool            `gorm:"not null" json:"stockBacked"`
}

// Balanced reports whether total == subTotal + tax.
func (s *SaleTransaction) Balanced() bool {
	return s.SubTotal.Add(s.Tax).Equal(s.Total)
}

// Clone returns a deep copy of the sale.
func (s *SaleTransaction) Clone() *SaleTransaction {
	if s == nil {
		return nil
	}
	out := *s
	out.Lines = append([]SaleLine(nil), s.Lines...)
	out.CustomerDetails = cloneMap(s.CustomerDetails)
	if s.IdempotencyKey != nil {
		k := *s.IdempotencyKey
		out.IdempotencyKey = &k
	}
	return &out
}
