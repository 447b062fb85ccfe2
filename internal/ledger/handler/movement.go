package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/httputil"
	"github.com/trialstock/trialstock-backend/pkg/logger"
)

// MovementHandler handles movement endpoints
type MovementHandler struct {
	service *service.MovementService
	logger  *logger.Logger
}

// NewMovementHandler creates a new movement handler
func NewMovementHandler(svc *service.MovementService, log *logger.Logger) *MovementHandler {
	return &MovementHandler{
		service: svc,
		logger:  log,
	}
}

// Reception records a delivery
func (h *MovementHandler) Reception(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceptionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Reception(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Dispensation records a dispensation to a patient
func (h *MovementHandler) Dispensation(w http.ResponseWriter, r *http.Request) {
	var req domain.DispensationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Dispensation(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Return records a patient return
func (h *MovementHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Return(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Destruction records a single-lot destruction
func (h *MovementHandler) Destruction(w http.ResponseWriter, r *http.Request) {
	var req domain.DestructionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Destruction(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Transfer records a location transfer
func (h *MovementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// List lists movements of a study with optional filters
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	studyID := r.URL.Query().Get("study_id")
	if studyID == "" {
		httputil.Error(w, errors.BadRequest("study_id query parameter is required"))
		return
	}

	filter := repository.MovementFilter{StudyID: studyID}

	if v := r.URL.Query().Get("stock_item_id"); v != "" {
		filter.StockItemID = &v
	}
	if v := r.URL.Query().Get("type"); v != "" {
		mt := domain.MovementType(v)
		filter.MovementType = &mt
	}
	if v := r.URL.Query().Get("medication_id"); v != "" {
		filter.MedicationID = &v
	}
	if v := r.URL.Query().Get("patient_id"); v != "" {
		filter.PatientID = &v
	}
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, errors.BadRequest("from must be an RFC 3339 timestamp"))
			return
		}
		filter.From = &ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, errors.BadRequest("to must be an RFC 3339 timestamp"))
			return
		}
		filter.To = &ts
	}

	page := 1
	perPage := 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := (total + perPage - 1) / perPage
	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int64(total),
		TotalPages: totalPages,
	})
}

// History returns the full movement history of one stock item
func (h *MovementHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	movements, err := h.service.StockItemHistory(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movements)
}
