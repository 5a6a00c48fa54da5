package handlers

import (
	"net/http"

	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"go.uber.org/zap"
)

type RestockHandler struct {
	svc *services.RestockService
	log *zap.Logger
}

func NewRestockHandler(s *services.RestockService, log *zap.Logger) *RestockHandler {
	return &RestockHandler{svc: s, log: log}
}

func (h *RestockHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.RestockStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RestockPending, models.RestockAcknowledged, models.RestockResolved:
	default:
		httpx.JSONError(w, http.StatusBadRequest, "invalid_status", nil)
		return
	}
	reqs, err := h.svc.List(r.Context(), status)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if reqs == nil {
		reqs = []models.RestockRequest{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": reqs})
}

func (h *RestockHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *RestockHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
