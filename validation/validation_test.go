package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidators(t *testing.T) {
	v := make(Violations)
	Required("name", "  ", v)
	PositiveInt("qty", 0, v)
	NonNegativeInt("stock", -1, v)
	NonNegativeDecimal("price", decimal.NewFromInt(-5), v)
	RangeDecimal("rate", decimal.NewFromInt(2), decimal.Zero, decimal.NewFromInt(1), v)

	want := map[string]string{
		"name":  "required",
		"qty":   "must_be_positive",
		"stock": "must_not_be_negative",
		"price": "must_not_be_negative",
		"rate":  "out_of_range",
	}
	for field, msg := range want {
		if got := v[field]; got != msg {
			t.Errorf("%s = %q, want %q", field, got, msg)
		}
	}
}

func TestAddKeepsFirstViolation(t *testing.T) {
	v := make(Violations)
	Required("code", "", v)
	v.Add("code", "code_already_exists")
	if v["code"] != "required" {
		t.Fatalf("expected first violation kept, got %q", v["code"])
	}
}

func TestEmpty(t *testing.T) {
	v := make(Violations)
	Required("name", "Shirt", v)
	PositiveInt("qty", 3, v)
	if !v.Empty() {
		t.Fatalf("expected no violations, got %v", v)
	}
}
