package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/cart"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/diewo77/go-pos/internal/settlement"
	"github.com/diewo77/go-pos/internal/store"
	"go.uber.org/zap"
)

type settlementDetails struct {
	Kind       settlement.Kind `json:"kind"`
	Line       *int            `json:"line,omitempty"`
	ProductID  string          `json:"productId,omitempty"`
	VariantID  string          `json:"variantId,omitempty"`
	Requested  int             `json:"requested,omitempty"`
	Available  *int            `json:"available,omitempty"`
	Violations any             `json:"violations,omitempty"`
}

func detailsOf(e *settlement.Error) settlementDetails {
	d := settlementDetails{Kind: e.Kind, ProductID: e.ProductID, VariantID: e.VariantID, Requested: e.Requested}
	if e.Line >= 0 {
		line := e.Line
		d.Line = &line
	}
	if e.Kind == settlement.KindInsufficientStock {
		avail := e.Available
		d.Available = &avail
	}
	if !e.Violations.Empty() {
		d.Violations = e.Violations
	}
	return d
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged and answered with 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		serr     *settlement.Error
		verr     *services.ValidationError
		stockErr *services.StockError
	)
	switch {
	case errors.As(err, &verr):
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", verr.Violations)
	case errors.As(err, &stockErr):
		httpx.JSONError(w, http.StatusConflict, "insufficient_stock", stockErr.Result)
	case errors.As(err, &serr):
		switch serr.Kind {
		case settlement.KindValidation:
			httpx.JSONError(w, http.StatusBadRequest, "validation_failed", detailsOf(serr))
		case settlement.KindProductNotFound:
			httpx.JSONError(w, http.StatusNotFound, "product_not_found", detailsOf(serr))
		case settlement.KindVariantNotFound:
			httpx.JSONError(w, http.StatusNotFound, "variant_not_found", detailsOf(serr))
		case settlement.KindInsufficientStock:
			httpx.JSONError(w, http.StatusConflict, "insufficient_stock", detailsOf(serr))
		case settlement.KindUnavailable:
			httpx.JSONError(w, http.StatusServiceUnavailable, "settlement_unavailable", nil)
		case settlement.KindCanceled:
			httpx.JSONError(w, http.StatusRequestTimeout, "canceled", nil)
		default:
			log.Error("unmapped settlement error", zap.Error(err))
			httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		}
	case errors.Is(err, settlement.ErrVariantNotFound):
		httpx.JSONError(w, http.StatusNotFound, "variant_not_found", nil)
	case errors.Is(err, store.ErrNotFound):
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, cart.ErrInvalidQuantity):
		httpx.JSONError(w, http.StatusBadRequest, "invalid_quantity", nil)
	case errors.Is(err, cart.ErrInvalidPrice):
		httpx.JSONError(w, http.StatusBadRequest, "invalid_price", nil)
	case errors.Is(err, services.ErrProductExists):
		httpx.JSONError(w, http.StatusConflict, "product_exists", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		httpx.JSONError(w, http.StatusConflict, "invalid_transition", nil)
	case errors.Is(err, store.ErrConflict):
		httpx.JSONError(w, http.StatusConflict, "conflict", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.JSONError(w, http.StatusRequestTimeout, "canceled", nil)
	default:
		log.Error("request failed", zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
