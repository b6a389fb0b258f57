package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

type staffRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Username     string         `db:"username"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	PharmacyID   sql.NullString `db:"pharmacy_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

// StaffRepository handles pharmacist account persistence.
type StaffRepository struct {
	db *database.DB
}

func NewStaffRepository(db *database.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// Create inserts a staff member, hashing the password. Lead accounts
// carry no pharmacy assignment; senior and regular accounts must.
func (r *StaffRepository) Create(ctx context.Context, staff *domain.StaffMember, password string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if tenant.Role(staff.Role) != tenant.RoleLead && staff.PharmacyID == "" {
		return errors.Validation(map[string]string{
			"pharmacy_id": "senior and regular staff must be assigned to a pharmacy",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "PASSWORD_HASH_FAILED", "failed to hash password", 500)
	}

	if staff.ID == "" {
		staff.ID = uuid.New().String()
	}
	staff.TenantID = tenantID

	var pharmacyID any
	if staff.PharmacyID != "" {
		pharmacyID = staff.PharmacyID
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO staff_members (id, tenant_id, username, password_hash, role, pharmacy_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`
		return r.db.QueryRowxContext(ctx, query,
			staff.ID, tenantID, staff.Username, string(hash), staff.Role, pharmacyID,
		).Scan(&staff.CreatedAt)
	})
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// Authenticate checks the credentials and returns the account on match.
// The same error is returned for unknown usernames and wrong passwords.
func (r *StaffRepository) Authenticate(ctx context.Context, tenantID, username, password string) (*domain.StaffMember, error) {
	var row staffRow
	err := r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, username, password_hash, role, pharmacy_id, created_at
			FROM staff_members WHERE username = $1
		`
		return r.db.GetContext(ctx, &row, query, username)
	})
	if err == sql.ErrNoRows {
		return nil, errors.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)) != nil {
		return nil, errors.Unauthorized("invalid credentials")
	}
	return rowToStaff(row), nil
}

// GetByID fetches one staff member within the tenant.
func (r *StaffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var row staffRow
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, username, password_hash, role, pharmacy_id, created_at
			FROM staff_members WHERE id = $1
		`
		return r.db.GetContext(ctx, &row, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("staff member")
	}
	if err != nil {
		return nil, err
	}
	return rowToStaff(row), nil
}

// List returns the tenant's staff, optionally filtered to one pharmacy.
func (r *StaffRepository) List(ctx context.Context, pharmacyID string) ([]*domain.StaffMember, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []staffRow
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, username, password_hash, role, pharmacy_id, created_at
			FROM staff_members
		`
		args := []interface{}{}
		if pharmacyID != "" {
			query += ` WHERE pharmacy_id = $1`
			args = append(args, pharmacyID)
		}
		query += ` ORDER BY username`
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.StaffMember, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToStaff(row))
	}
	return out, nil
}

// Delete removes a staff account.
func (r *StaffRepository) Delete(ctx context.Context, id string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `DELETE FROM staff_members WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("staff member")
		}
		return nil
	})
}

func rowToStaff(row staffRow) *domain.StaffMember {
	staff := &domain.StaffMember{
		ID:        row.ID,
		TenantID:  row.TenantID,
		Username:  row.Username,
		Role:      row.Role,
		CreatedAt: row.CreatedAt,
	}
	if row.PharmacyID.Valid {
		staff.PharmacyID = row.PharmacyID.String
	}
	return staff
}
