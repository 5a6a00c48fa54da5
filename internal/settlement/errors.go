package settlement

import (
	"errors"
	"fmt"

	"github.com/diewo77/go-pos/validation"
)

// Kind discriminates settlement failures.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindProductNotFound   Kind = "product_not_found"
	KindVariantNotFound   Kind = "variant_not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindUnavailable       Kind = "settlement_unavailable"
	KindCanceled          Kind = "canceled"
)

var (
	ErrValidation            = errors.New("invalid settlement request")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidQuantity       = errors.New("line quantity must be positive")
	ErrInsufficientPayment   = errors.New("amount paid is less than total")
	ErrProductNotFound       = errors.New("product not found")
	ErrVariantNotFound       = errors.New("variant not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSettlementUnavailable = errors.New("settlement unavailable")
)

// Error is returned for every failed settlement. Line is the index of the
// offending cart line, or -1 when the failure is not tied to one line.
type Error struct {
	Kind       Kind
	Line       int
	ProductID  string
	VariantID  string
	Requested  int
	Available  int
	Violations validation.Violations
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInsufficientStock:
		return fmt.Sprintf("line %d: %s %s/%s: requested %d, available %d", e.Line, e.Err, e.ProductID, e.VariantID, e.Requested, e.Available)
	case KindProductNotFound:
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Err, e.ProductID)
	case KindVariantNotFound:
		return fmt.Sprintf("line %d: %s: %s/%s", e.Line, e.Err, e.ProductID, e.VariantID)
	}
	if e.Line >= 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every validation failure match ErrValidation.
func (e *Error) Is(target error) bool {
	return target == ErrValidation && e.Kind == KindValidation
}

// Terminal reports whether retrying the same cart can never succeed.
func (e *Error) Terminal() bool {
	switch e.Kind {
	case KindProductNotFound, KindVariantNotFound, KindInsufficientStock, KindValidation:
		return true
	}
	return false
}

func invalid(line int, err error, v validation.Violations) *Error {
	return &Error{Kind: KindValidation, Line: line, Err: err, Violations: v}
}
