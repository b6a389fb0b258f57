package service

import (
	"context"
	"time"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/session"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// AdminService handles pharmacy and staff management plus sign-in.
// Management operations are restricted to lead sessions; scoping is also
// enforced again at the repository boundary.
type AdminService struct {
	pharmacyRepo *repository.PharmacyRepository
	staffRepo    *repository.StaffRepository
	sessions     *session.Manager
	logger       *logger.Logger
}

// NewAdminService creates a new admin service.
func NewAdminService(
	pharmacyRepo *repository.PharmacyRepository,
	staffRepo *repository.StaffRepository,
	sessions *session.Manager,
	log *logger.Logger,
) *AdminService {
	return &AdminService{
		pharmacyRepo: pharmacyRepo,
		staffRepo:    staffRepo,
		sessions:     sessions,
		logger:       log,
	}
}

// LoginResult carries a fresh session token.
type LoginResult struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Staff     domain.StaffMember `json:"staff"`
}

// Login verifies credentials and issues a session token carrying the
// resolved scope.
func (s *AdminService) Login(ctx context.Context, tenantID, username, password string) (LoginResult, error) {
	staff, err := s.staffRepo.Authenticate(ctx, tenantID, username, password)
	if err != nil {
		return LoginResult{}, err
	}

	scope := tenant.Scope{
		TenantID:   staff.TenantID,
		UserID:     staff.ID,
		Username:   staff.Username,
		Role:       tenant.Role(staff.Role),
		PharmacyID: staff.PharmacyID,
	}
	token, expiresAt, err := s.sessions.Generate(scope)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info().
		Str("tenant_id", staff.TenantID).
		Str("username", staff.Username).
		Str("role", staff.Role).
		Msg("staff signed in")

	return LoginResult{Token: token, ExpiresAt: expiresAt, Staff: *staff}, nil
}

func requireLead(ctx context.Context) (tenant.Scope, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return tenant.Scope{}, errors.Unauthorized("missing session scope")
	}
	if !scope.TenantWide() {
		return tenant.Scope{}, errors.Forbidden("lead role required")
	}
	return scope, nil
}

// CreatePharmacy adds a pharmacy branch. Lead only.
func (s *AdminService) CreatePharmacy(ctx context.Context, pharmacy *domain.Pharmacy) error {
	if _, err := requireLead(ctx); err != nil {
		return err
	}
	if pharmacy.Name == "" {
		return errors.Validation(map[string]string{"name": "must not be blank"})
	}
	return s.pharmacyRepo.Create(ctx, pharmacy)
}

// GetPharmacy returns one pharmacy within the caller's scope.
func (s *AdminService) GetPharmacy(ctx context.Context, id string) (*domain.Pharmacy, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, errors.Unauthorized("missing session scope")
	}
	if err := scope.AuthorizePharmacy(id); err != nil {
		return nil, errors.Forbidden("pharmacy is outside your scope")
	}
	return s.pharmacyRepo.GetByID(ctx, id)
}

// ListPharmacies returns the pharmacies visible to the caller: all of
// them for lead sessions, the assigned one otherwise.
func (s *AdminService) ListPharmacies(ctx context.Context) ([]*domain.Pharmacy, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, errors.Unauthorized("missing session scope")
	}

	all, err := s.pharmacyRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if scope.TenantWide() {
		return all, nil
	}
	for _, pharmacy := range all {
		if pharmacy.ID == scope.PharmacyID {
			return []*domain.Pharmacy{pharmacy}, nil
		}
	}
	return []*domain.Pharmacy{}, nil
}

// UpdatePharmacySettings replaces the pharmacy's settings. Lead only;
// flipping the dispense-category switch never migrates existing day
// values.
func (s *AdminService) UpdatePharmacySettings(ctx context.Context, id string, settings domain.PharmacySettings) error {
	if _, err := requireLead(ctx); err != nil {
		return err
	}
	if settings.DispenseCategories.Patient == "" || settings.DispenseCategories.Scissors == "" {
		defaults := domain.DefaultPharmacySettings()
		if settings.DispenseCategories.Patient == "" {
			settings.DispenseCategories.Patient = defaults.DispenseCategories.Patient
		}
		if settings.DispenseCategories.Scissors == "" {
			settings.DispenseCategories.Scissors = defaults.DispenseCategories.Scissors
		}
	}
	return s.pharmacyRepo.UpdateSettings(ctx, id, settings)
}

// DeletePharmacy removes a branch and its ledger history. Lead only.
func (s *AdminService) DeletePharmacy(ctx context.Context, id string) error {
	if _, err := requireLead(ctx); err != nil {
		return err
	}
	return s.pharmacyRepo.Delete(ctx, id)
}

// CreateStaff adds a pharmacist account. Lead only.
func (s *AdminService) CreateStaff(ctx context.Context, staff *domain.StaffMember, password string) error {
	if _, err := requireLead(ctx); err != nil {
		return err
	}
	switch tenant.Role(staff.Role) {
	case tenant.RoleLead, tenant.RoleSenior, tenant.RoleRegular:
	default:
		return errors.Validation(map[string]string{"role": "must be one of: lead, senior, regular"})
	}
	if staff.Username == "" {
		return errors.Validation(map[string]string{"username": "must not be blank"})
	}
	if len(password) < 8 {
		return errors.Validation(map[string]string{"password": "must be at least 8 characters"})
	}
	if staff.PharmacyID != "" {
		if _, err := s.pharmacyRepo.GetByID(ctx, staff.PharmacyID); err != nil {
			return err
		}
	}
	return s.staffRepo.Create(ctx, staff, password)
}

// ListStaff returns staff accounts: tenant-wide for lead sessions,
// restricted to the caller's pharmacy otherwise.
func (s *AdminService) ListStaff(ctx context.Context) ([]*domain.StaffMember, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, errors.Unauthorized("missing session scope")
	}
	if scope.TenantWide() {
		return s.staffRepo.List(ctx, "")
	}
	return s.staffRepo.List(ctx, scope.PharmacyID)
}

// DeleteStaff removes an account. Lead only; a lead cannot delete itself.
func (s *AdminService) DeleteStaff(ctx context.Context, id string) error {
	scope, err := requireLead(ctx)
	if err != nil {
		return err
	}
	if scope.UserID == id {
		return errors.Conflict("cannot delete your own account")
	}
	return s.staffRepo.Delete(ctx, id)
}
