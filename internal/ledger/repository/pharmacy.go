package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

type pharmacyRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Address   string    `db:"address"`
	Settings  []byte    `db:"settings"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PharmacyRepository handles pharmacy persistence.
type PharmacyRepository struct {
	db *database.DB
}

func NewPharmacyRepository(db *database.DB) *PharmacyRepository {
	return &PharmacyRepository{db: db}
}

// Create inserts a pharmacy with default settings unless overridden.
func (r *PharmacyRepository) Create(ctx context.Context, pharmacy *domain.Pharmacy) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if pharmacy.ID == "" {
		pharmacy.ID = uuid.New().String()
	}
	pharmacy.TenantID = tenantID
	if pharmacy.Settings == (domain.PharmacySettings{}) {
		pharmacy.Settings = domain.DefaultPharmacySettings()
	}
	settings, err := json.Marshal(pharmacy.Settings)
	if err != nil {
		return errors.Wrap(err, "SETTINGS_ENCODE_FAILED", "failed to encode pharmacy settings", 500)
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO pharmacies (id, tenant_id, name, address, settings)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at
		`
		return r.db.QueryRowxContext(ctx, query,
			pharmacy.ID, tenantID, pharmacy.Name, pharmacy.Address, settings,
		).Scan(&pharmacy.CreatedAt, &pharmacy.UpdatedAt)
	})
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// GetByID fetches one pharmacy within the tenant.
func (r *PharmacyRepository) GetByID(ctx context.Context, id string) (*domain.Pharmacy, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var row pharmacyRow
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, name, address, settings, created_at, updated_at
			FROM pharmacies WHERE id = $1
		`
		return r.db.GetContext(ctx, &row, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("pharmacy")
	}
	if err != nil {
		return nil, err
	}
	return rowToPharmacy(row)
}

// List returns all of the tenant's pharmacies, by name.
func (r *PharmacyRepository) List(ctx context.Context) ([]*domain.Pharmacy, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []pharmacyRow
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, name, address, settings, created_at, updated_at
			FROM pharmacies ORDER BY name
		`
		return r.db.SelectContext(ctx, &rows, query)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Pharmacy, 0, len(rows))
	for _, row := range rows {
		pharmacy, err := rowToPharmacy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, pharmacy)
	}
	return out, nil
}

// UpdateSettings replaces the pharmacy's settings document.
func (r *PharmacyRepository) UpdateSettings(ctx context.Context, id string, settings domain.PharmacySettings) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "SETTINGS_ENCODE_FAILED", "failed to encode pharmacy settings", 500)
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `UPDATE pharmacies SET settings = $2, updated_at = NOW() WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id, encoded)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("pharmacy")
		}
		return nil
	})
}

// Delete removes the pharmacy. Ledger months reference pharmacies by ID
// and are removed by cascade.
func (r *PharmacyRepository) Delete(ctx context.Context, id string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `DELETE FROM pharmacies WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("pharmacy")
		}
		return nil
	})
}

func rowToPharmacy(row pharmacyRow) (*domain.Pharmacy, error) {
	pharmacy := &domain.Pharmacy{
		ID:        row.ID,
		TenantID:  row.TenantID,
		Name:      row.Name,
		Address:   row.Address,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &pharmacy.Settings); err != nil {
			return nil, errors.Wrap(err, "SETTINGS_DECODE_FAILED", "failed to decode pharmacy settings", 500)
		}
	}
	return pharmacy, nil
}
