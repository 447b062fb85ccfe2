package handler

import (
	"net/http"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/pkg/httputil"
	"github.com/trialstock/trialstock-backend/pkg/logger"
)

// VisitHandler handles visit calendar generation
type VisitHandler struct {
	logger *logger.Logger
}

// NewVisitHandler creates a new visit handler
func NewVisitHandler(log *logger.Logger) *VisitHandler {
	return &VisitHandler{logger: log}
}

// GenerateCalendarRequest is the calendar expansion input.
type GenerateCalendarRequest struct {
	Template []domain.TemplateVisit  `json:"template" validate:"required,min=1,dive"`
	Cycles   *domain.CycleDefinition `json:"cycles,omitempty"`
}

// Generate expands a visit-schedule template into a dated calendar. The
// calendar is derived data and never persisted.
func (h *VisitHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateCalendarRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	visits := domain.ExpandCalendar(req.Template, req.Cycles)
	httputil.JSON(w, http.StatusOK, visits)
}
