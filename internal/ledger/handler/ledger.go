// Package handler exposes the ledger service over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/httputil"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

// LedgerHandler handles ledger month and item endpoints.
type LedgerHandler struct {
	service *service.LedgerService
	logger  *logger.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(svc *service.LedgerService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: svc,
		logger:  log,
	}
}

func itemIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		return 0, errors.Validation(map[string]string{"index": "must be a non-negative integer"})
	}
	return index, nil
}

// OpenMonth opens (and lazily creates) a ledger month.
func (h *LedgerHandler) OpenMonth(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	view, err := h.service.OpenMonth(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// GetMonth returns the month with derived quantities.
func (h *LedgerHandler) GetMonth(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	view, err := h.service.GetMonth(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// AddItem appends an empty item row.
func (h *LedgerHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	index, err := h.service.AddItem(r.Context(), pharmacyID, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, map[string]int{"index": index})
}

// UpdateItem merges a field patch into an item.
func (h *LedgerHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")
	index, err := itemIndex(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var patch store.ItemPatch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.UpdateItem(r.Context(), pharmacyID, month, index, patch); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type dispenseRequest struct {
	Day      int     `json:"day" validate:"required,min=1,max=31"`
	Value    float64 `json:"value" validate:"min=0"`
	Category string  `json:"category" validate:"omitempty,oneof=patient scissors"`
}

// SetDispense writes one day's dispense cell.
func (h *LedgerHandler) SetDispense(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")
	index, err := itemIndex(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req dispenseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	err = h.service.SetDailyDispense(r.Context(), pharmacyID, month, index, req.Day, req.Value, domain.DispenseCategory(req.Category))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type incomingRequest struct {
	Day    int      `json:"day" validate:"required,min=1,max=31"`
	Value  *float64 `json:"value,omitempty"`
	Source *string  `json:"source,omitempty" validate:"omitempty,oneof=factory authority scissors"`
}

// SetIncoming writes one day's incoming cell.
func (h *LedgerHandler) SetIncoming(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")
	index, err := itemIndex(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req incomingRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	var source *domain.IncomingSource
	if req.Source != nil {
		s := domain.IncomingSource(*req.Source)
		source = &s
	}

	err = h.service.SetDailyIncoming(r.Context(), pharmacyID, month, index, req.Day, req.Value, source)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteItem removes an item from this month.
func (h *LedgerHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")
	index, err := itemIndex(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.DeleteItem(r.Context(), pharmacyID, month, index); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// Flush forces a pending write for the month.
func (h *LedgerHandler) Flush(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	month := chi.URLParam(r, "month")

	if err := h.service.Flush(r.Context(), pharmacyID, month); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}
