package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/pkg/httputil"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

// ReportHandler handles analytics endpoints.
type ReportHandler struct {
	service *service.ReportService
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(svc *service.ReportService, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		service: svc,
		logger:  log,
	}
}

// Shortage returns items flagged short in the requested month.
func (h *ReportHandler) Shortage(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	report, err := h.service.Shortage(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, report)
}

// Consumption returns per-item trailing consumption averages.
func (h *ReportHandler) Consumption(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	report, err := h.service.Consumption(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, report)
}

// Valuation returns stock value figures for the month.
func (h *ReportHandler) Valuation(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	report, err := h.service.Valuation(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, report)
}

// IncomingBySource breaks incoming quantities down by supply source.
func (h *ReportHandler) IncomingBySource(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	report, err := h.service.IncomingBySource(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, report)
}
