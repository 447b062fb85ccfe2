package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/httputil"
	"github.com/trialstock/trialstock-backend/pkg/logger"
)

// DestructionHandler handles destruction eligibility and batch endpoints
type DestructionHandler struct {
	service *service.DestructionService
	logger  *logger.Logger
}

// NewDestructionHandler creates a new destruction handler
func NewDestructionHandler(svc *service.DestructionService, log *logger.Logger) *DestructionHandler {
	return &DestructionHandler{
		service: svc,
		logger:  log,
	}
}

// ListEligible lists destruction candidates for a study
func (h *DestructionHandler) ListEligible(w http.ResponseWriter, r *http.Request) {
	studyID := r.URL.Query().Get("study_id")
	if studyID == "" {
		httputil.Error(w, errors.BadRequest("study_id query parameter is required"))
		return
	}

	filter := repository.EligibilityFilter{StudyID: studyID}
	if v := r.URL.Query().Get("medication_id"); v != "" {
		filter.MedicationID = &v
	}
	if v := r.URL.Query().Get("batch_number"); v != "" {
		filter.BatchNumber = &v
	}

	eligible, err := h.service.ListEligible(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, eligible)
}

// CreateBatch records a batch destruction
func (h *DestructionHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.DestructionBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.CreateBatch(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// GetBatch gets a destruction batch with its movements
func (h *DestructionHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ListBatches lists the destruction batches of a study
func (h *DestructionHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	studyID := r.URL.Query().Get("study_id")
	if studyID == "" {
		httputil.Error(w, errors.BadRequest("study_id query parameter is required"))
		return
	}

	batches, err := h.service.ListBatches(r.Context(), studyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}
