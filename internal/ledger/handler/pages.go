package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/httputil"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// PageHandler handles custom page endpoints.
type PageHandler struct {
	service *service.PageService
	logger  *logger.Logger
}

// NewPageHandler creates a new page handler.
func NewPageHandler(svc *service.PageService, log *logger.Logger) *PageHandler {
	return &PageHandler{
		service: svc,
		logger:  log,
	}
}

type createPageRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// Create creates an empty named page.
func (h *PageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	page, err := h.service.CreatePage(r.Context(), req.Name)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, page)
}

// List returns all pages for the tenant.
func (h *PageHandler) List(w http.ResponseWriter, r *http.Request) {
	pages, err := h.service.ListPages(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pages)
}

// Get returns a single page.
func (h *PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetPage(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, page)
}

// Delete removes a page.
func (h *PageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePage(r.Context(), chi.URLParam(r, "pageID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type addItemsRequest struct {
	Items []domain.Item `json:"items" validate:"required,min=1"`
}

// AddItems copies items onto the page, skipping duplicates by name.
func (h *PageHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	added, skipped, err := h.service.AddItemsToPage(r.Context(), chi.URLParam(r, "pageID"), req.Items)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string][]string{
		"added":   added,
		"skipped": skipped,
	})
}

// RemoveItem removes one item (and its note) from the page.
func (h *PageHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	itemName := chi.URLParam(r, "itemName")

	if err := h.service.RemoveItemFromPage(r.Context(), pageID, itemName); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type noteRequest struct {
	Note string `json:"note"`
}

// SetNote attaches a free-text note to a page item. An empty note clears it.
func (h *PageHandler) SetNote(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	itemName := chi.URLParam(r, "itemName")

	var req noteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.SetNote(r.Context(), pageID, itemName, req.Note); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type syncPageRequest struct {
	PharmacyID string `json:"pharmacy_id" validate:"required,uuid"`
	Month      string `json:"month" validate:"required"`
}

// Sync pulls current inventory values into the page from one ledger month.
func (h *PageHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncPageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.SyncPageWithInventory(r.Context(), chi.URLParam(r, "pageID"), req.PharmacyID, req.Month)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

type updateTarget struct {
	PharmacyID string `json:"pharmacy_id" validate:"required,uuid"`
	Month      string `json:"month" validate:"required"`
}

type updateInBothRequest struct {
	Patch   store.ItemPatch `json:"patch"`
	Targets []updateTarget  `json:"targets" validate:"dive"`
}

// UpdateItemInBoth applies one field patch to the page item and to the same
// item in each target ledger month.
func (h *PageHandler) UpdateItemInBoth(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	itemName := chi.URLParam(r, "itemName")

	var req updateInBothRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	scope, err := tenant.ScopeFromContext(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	targets := make([]domain.ScopeKey, 0, len(req.Targets))
	for _, t := range req.Targets {
		monthKey, err := domain.ParseMonthKey(t.Month)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"month": err.Error()}))
			return
		}
		targets = append(targets, domain.ScopeKey{
			TenantID:   scope.TenantID,
			PharmacyID: t.PharmacyID,
			Month:      monthKey,
		})
	}

	result, err := h.service.UpdateItemInBoth(r.Context(), pageID, itemName, req.Patch, targets)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}
