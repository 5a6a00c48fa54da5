package restock

import (
	"math"
	"strconv"

	"github.com/diewo77/go-pos/internal/models"
)

// Custom field keys read from a variant to size a reorder.
const (
	FieldAnnualDemand = "annualDemand"
	FieldOrderCost    = "orderCost"
	FieldHoldingCost  = "holdingCost"
	FieldDailyDemand  = "dailyDemand"
	FieldLeadTimeDays = "leadTimeDays"
	FieldSafetyStock  = "safetyStock"
)

// Priority ranks a variant left with newQty units against its restock level.
func Priority(newQty, restockLevel int) models.RestockPriority {
	switch {
	case newQty <= 0:
		return models.PriorityCritical
	case newQty <= restockLevel/4:
		return models.PriorityUrgent
	case newQty <= restockLevel/2:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

// ReorderPoint is the stock level at which an order must be placed to cover
// demand during the lead time plus the safety stock.
func ReorderPoint(dailyDemand, leadDays, safetyStock float64) int {
	if dailyDemand < 0 || leadDays < 0 || safetyStock < 0 {
		return 0
	}
	return int(math.Ceil(dailyDemand*leadDays + safetyStock))
}

// EconomicOrderQuantity returns sqrt(2DS/H) rounded up, or 0 when the inputs are unusable.
func EconomicOrderQuantity(annualDemand, orderCost, holdingCost float64) int {
	if annualDemand <= 0 || orderCost <= 0 || holdingCost <= 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt(2 * annualDemand * orderCost / holdingCost)))
}

// SuggestedQuantity sizes a reorder for a variant left with newQty units.
// Demand parameters in the variant custom fields take precedence; without them the
// target is twice the restock level.
func SuggestedQuantity(newQty, restockLevel int, fields map[string]any) int {
	if d, ok := number(fields, FieldAnnualDemand); ok {
		s, _ := number(fields, FieldOrderCost)
		h, _ := number(fields, FieldHoldingCost)
		if eoq := EconomicOrderQuantity(d, s, h); eoq > 0 {
			return eoq
		}
	}
	target := restockLevel * 2
	if d, ok := number(fields, FieldDailyDemand); ok {
		lead, _ := number(fields, FieldLeadTimeDays)
		safety, _ := number(fields, FieldSafetyStock)
		if rp := ReorderPoint(d, lead, safety); rp > 0 {
			target = rp * 2
		}
	}
	if qty := target - newQty; qty > 0 {
		return qty
	}
	return 1
}

func number(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
