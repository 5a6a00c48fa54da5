package models

import "time"

// RestockPriority ranks how urgently a variant needs replenishing.
type RestockPriority string

const (
	PriorityCritical RestockPriority = "critical"
	PriorityUrgent   RestockPriority = "urgent"
	PriorityHigh     RestockPriority = "high"
	PriorityNormal   RestockPriority = "normal"
)

// RestockStatus is the lifecycle state of a restock request.
type RestockStatus string

const (
	RestockPending      RestockStatus = "pending"
	RestockAcknowledged RestockStatus = "acknowledged"
	RestockResolved     RestockStatus = "resolved"
)

// RestockRequest is enqueued after a settlement leaves a variant at or below its reorder threshold.
type RestockRequest struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ProductID string `gorm:"size:64;index;not null" json:"productId"`
	VariantID string `gorm:"size:64;not null" json:"variantId"`
	SaleID    string `gorm:"size:64;index" json:"saleId"`

	CurrentStock      int `gorm:"not null" json:"currentStock"`
	RestockLevel      int `gorm:"not null" json:"restockLevel"`
	SuggestedQuantity int `gorm:"not null;default:0" json:"suggestedQuantity"`

	Priority RestockPriority `gorm:"size:20;not null" json:"priority"`
	Status   RestockStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
}

// CanTransition reports whether the request may move to the given status.
// Requests only move forward: pending -> acknowledged -> resolved.
func (r *RestockRequest) CanTransition(to RestockStatus) bool {
	switch r.Status {
	case RestockPending:
		return to == RestockAcknowledged
	case RestockAcknowledged:
		return to == RestockResolved
	default:
		return false
	}
}
