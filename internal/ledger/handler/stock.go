package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/httputil"
	"github.com/trialstock/trialstock-backend/pkg/logger"
)

// StockHandler handles stock item endpoints
type StockHandler struct {
	service *service.MovementService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.MovementService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// List lists the stock items of a study
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	studyID := r.URL.Query().Get("study_id")
	if studyID == "" {
		httputil.Error(w, errors.BadRequest("study_id query parameter is required"))
		return
	}

	items, err := h.service.ListStockItems(r.Context(), studyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, items)
}

// Get gets a stock item by ID
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.service.GetStockItem(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Quarantine places a stock item in quarantine
func (h *StockHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.service.Quarantine(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Release releases a quarantined stock item back to stock
func (h *StockHandler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.service.Release(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}
