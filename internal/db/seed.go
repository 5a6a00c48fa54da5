package db

import (
	"errors"
	"fmt"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Catalogue is a small apparel and merchandise range for local runs.
func Catalogue() []models.Product {
	return []models.Product{
		{
			ID: "P-TSHIRT", Name: "Logo T-Shirt", Category: "apparel",
			Variants: []models.Variant{
				{ID: "V-S", Name: "Small", UnitPrice: price("100.00"), Quantity: 5, RestockLevel: 2},
				{ID: "V-M", Name: "Medium", UnitPrice: price("100.00"), Quantity: 5, RestockLevel: 2},
				{ID: "V-L", Name: "Large", UnitPrice: price("110.00"), Quantity: 3, RestockLevel: 1},
			},
		},
		{
			ID: "P-MUG", Name: "Enamel Mug", Category: "merchandise",
			Variants: []models.Variant{
				{ID: "V-WHITE", Name: "White", UnitPrice: price("45.50"), Quantity: 24, RestockLevel: 6,
					CustomFields: map[string]any{"dailyDemand": 2, "leadTimeDays": 5, "safetyStock": 4}},
			},
		},
		{
			ID: "P-CAP", Name: "Snapback Cap", Category: "apparel",
			Variants: []models.Variant{
				{ID: "V-BLACK", Name: "Black", UnitPrice: price("75.00"), Quantity: 10, RestockLevel: 3},
			},
			CustomFields: map[string]any{"supplier": "Northwind"},
		},
	}
}

// Seed inserts the development catalogue. Existing products are left untouched.
func Seed(db *gorm.DB) error {
	for _, p := range Catalogue() {
		var existing models.Product
		err := db.Where("id = ?", p.ID).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
		p.Normalize()
		p.Version = 1
		if err := db.Create(&p).Error; err != nil {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return nil
}
