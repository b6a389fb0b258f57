package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/pkg/httputil"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

// AdminHandler handles auth, pharmacy, and staff management endpoints.
type AdminHandler struct {
	service *service.AdminService
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(svc *service.AdminService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		service: svc,
		logger:  log,
	}
}

type loginRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials and returns a session token.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.TenantID, req.Username, req.Password)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

type createPharmacyRequest struct {
	Name     string                   `json:"name" validate:"required,max=200"`
	Address  string                   `json:"address" validate:"max=500"`
	Settings *domain.PharmacySettings `json:"settings,omitempty"`
}

// CreatePharmacy registers a pharmacy branch.
func (h *AdminHandler) CreatePharmacy(w http.ResponseWriter, r *http.Request) {
	var req createPharmacyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	pharmacy := &domain.Pharmacy{
		Name:    req.Name,
		Address: req.Address,
	}
	if req.Settings != nil {
		pharmacy.Settings = *req.Settings
	}

	if err := h.service.CreatePharmacy(r.Context(), pharmacy); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, pharmacy)
}

// GetPharmacy returns one pharmacy.
func (h *AdminHandler) GetPharmacy(w http.ResponseWriter, r *http.Request) {
	pharmacy, err := h.service.GetPharmacy(r.Context(), chi.URLParam(r, "pharmacyID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pharmacy)
}

// ListPharmacies returns the pharmacies visible to the caller.
func (h *AdminHandler) ListPharmacies(w http.ResponseWriter, r *http.Request) {
	pharmacies, err := h.service.ListPharmacies(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pharmacies)
}

// UpdatePharmacySettings replaces a pharmacy's feature settings.
func (h *AdminHandler) UpdatePharmacySettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.PharmacySettings
	if err := httputil.DecodeJSON(r, &settings); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.UpdatePharmacySettings(r.Context(), chi.URLParam(r, "pharmacyID"), settings); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeletePharmacy removes a pharmacy branch.
func (h *AdminHandler) DeletePharmacy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePharmacy(r.Context(), chi.URLParam(r, "pharmacyID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

type createStaffRequest struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Password   string `json:"password" validate:"required,min=8"`
	Role       string `json:"role" validate:"required,oneof=lead senior regular"`
	PharmacyID string `json:"pharmacy_id" validate:"omitempty,uuid"`
}

// CreateStaff registers a pharmacist account.
func (h *AdminHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req createStaffRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	staff := &domain.StaffMember{
		Username:   req.Username,
		Role:       req.Role,
		PharmacyID: req.PharmacyID,
	}
	if err := h.service.CreateStaff(r.Context(), staff, req.Password); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, staff)
}

// ListStaff returns the tenant's staff accounts.
func (h *AdminHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.service.ListStaff(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, staff)
}

// DeleteStaff removes a staff account.
func (h *AdminHandler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStaff(r.Context(), chi.URLParam(r, "staffID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}
