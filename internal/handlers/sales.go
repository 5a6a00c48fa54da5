package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/store"
	"go.uber.org/zap"
)

const maxSalesPage = 200

// SalesHandler serves the sale history. Sales are read only.
type SalesHandler struct {
	store store.Store
	log   *zap.Logger
}

func NewSalesHandler(s store.Store, log *zap.Logger) *SalesHandler {
	return &SalesHandler{store: s, log: log}
}

func (h *SalesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxSalesPage {
		limit = 50
	}
	sales, err := h.store.ListSales(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if sales == nil {
		sales = []models.SaleTransaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": sales, "limit": limit})
}

func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sale, err := h.store.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
