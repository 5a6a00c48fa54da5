package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/diewo77/go-pos/internal/settlement"
	"github.com/diewo77/go-pos/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HeaderIdempotencyKey lets a terminal safely resend a checkout.
const HeaderIdempotencyKey = "Idempotency-Key"

type TerminalHandler struct {
	checkout *services.CheckoutService
	log      *zap.Logger
}

func NewTerminalHandler(c *services.CheckoutService, log *zap.Logger) *TerminalHandler {
	return &TerminalHandler{checkout: c, log: log}
}

func terminalOf(r *http.Request) string { return strings.TrimSpace(r.PathValue("terminal")) }

func lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_index", nil)
		return 0, false
	}
	return i, true
}

func (h *TerminalHandler) Cart(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.checkout.Cart(terminalOf(r)))
}

type addLineInput struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

func (h *TerminalHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var in addLineInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := make(validation.Violations)
	validation.Required("productId", in.ProductID, v)
	validation.Required("variantId", in.VariantID, v)
	validation.PositiveInt("qty", in.Qty, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	view, err := h.checkout.AddLine(r.Context(), terminalOf(r), strings.TrimSpace(in.ProductID), strings.TrimSpace(in.VariantID), in.Qty)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type customLineInput struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Qty       int             `json:"qty"`
}

func (h *TerminalHandler) AddCustomLine(w http.ResponseWriter, r *http.Request) {
	var in customLineInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := make(validation.Violations)
	validation.Required("name", in.Name, v)
	validation.NonNegativeDecimal("unitPrice", in.UnitPrice, v)
	validation.PositiveInt("qty", in.Qty, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	view, err := h.checkout.AddCustomLine(terminalOf(r), strings.TrimSpace(in.Name), in.UnitPrice, in.Qty)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *TerminalHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	i, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var in struct {
		Qty int `json:"qty"`
	}
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, h.checkout.SetQuantity(terminalOf(r), i, in.Qty))
}

func (h *TerminalHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	i, ok := lineIndex(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.checkout.RemoveLine(terminalOf(r), i))
}

func (h *TerminalHandler) ResetCart(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.checkout.ResetCart(terminalOf(r)))
}

func (h *TerminalHandler) Check(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.Check(r.Context(), terminalOf(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type checkoutInput struct {
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	PaymentMethod   string          `json:"paymentMethod"`
	CustomerName    string          `json:"customerName"`
	CustomerDetails map[string]any  `json:"customerDetails"`
}

func (h *TerminalHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	cashier, ok := auth.CashierFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "cashier_required", nil)
		return
	}
	var in checkoutInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	res, err := h.checkout.Checkout(r.Context(), terminalOf(r), services.CheckoutInput{
		AmountPaid:      in.AmountPaid,
		PaymentMethod:   in.PaymentMethod,
		CustomerName:    in.CustomerName,
		CustomerDetails: in.CustomerDetails,
		Cashier:         settlement.Cashier{ID: cashier.ID, Name: cashier.Name},
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}
