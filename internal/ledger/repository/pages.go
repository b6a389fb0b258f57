package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

type pageRow struct {
	ID          string       `db:"id"`
	TenantID    string       `db:"tenant_id"`
	Name        string       `db:"name"`
	Items       []byte       `db:"items"`
	Notes       []byte       `db:"notes"`
	CreatedAt   time.Time    `db:"created_at"`
	LastUpdated sql.NullTime `db:"last_updated"`
	LastSynced  sql.NullTime `db:"last_synced"`
}

// PageRepository persists custom pages. The projector owns the live
// state; this is its durable backing.
type PageRepository struct {
	db *database.DB
}

func NewPageRepository(db *database.DB) *PageRepository {
	return &PageRepository{db: db}
}

// Save upserts a page document.
func (r *PageRepository) Save(ctx context.Context, page domain.CustomPage) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	items, err := json.Marshal(page.Items)
	if err != nil {
		return errors.Wrap(err, "PAGE_ENCODE_FAILED", "failed to encode page items", 500)
	}
	notes, err := json.Marshal(page.Notes)
	if err != nil {
		return errors.Wrap(err, "PAGE_ENCODE_FAILED", "failed to encode page notes", 500)
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO custom_pages (id, tenant_id, name, items, notes, created_at, last_updated, last_synced)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id)
			DO UPDATE SET name = EXCLUDED.name,
			              items = EXCLUDED.items,
			              notes = EXCLUDED.notes,
			              last_updated = EXCLUDED.last_updated,
			              last_synced = EXCLUDED.last_synced
		`
		_, err := r.db.ExecContext(ctx, query,
			page.ID, tenantID, page.Name, items, notes,
			page.CreatedAt, page.LastUpdated, page.LastSynced,
		)
		return err
	})
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// List returns every page owned by the tenant.
func (r *PageRepository) List(ctx context.Context) ([]domain.CustomPage, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []pageRow
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, name, items, notes, created_at, last_updated, last_synced
			FROM custom_pages ORDER BY name
		`
		return r.db.SelectContext(ctx, &rows, query)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.CustomPage, 0, len(rows))
	for _, row := range rows {
		page, err := rowToPage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, nil
}

// Delete removes a page.
func (r *PageRepository) Delete(ctx context.Context, id string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `DELETE FROM custom_pages WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("custom page")
		}
		return nil
	})
}

func rowToPage(row pageRow) (domain.CustomPage, error) {
	page := domain.CustomPage{
		ID:        row.ID,
		TenantID:  row.TenantID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
	}
	if row.LastUpdated.Valid {
		t := row.LastUpdated.Time
		page.LastUpdated = &t
	}
	if row.LastSynced.Valid {
		t := row.LastSynced.Time
		page.LastSynced = &t
	}
	if len(row.Items) > 0 {
		if err := json.Unmarshal(row.Items, &page.Items); err != nil {
			return domain.CustomPage{}, errors.Wrap(err, "PAGE_DECODE_FAILED", "failed to decode page items", 500)
		}
	}
	if len(row.Notes) > 0 {
		if err := json.Unmarshal(row.Notes, &page.Notes); err != nil {
			return domain.CustomPage{}, errors.Wrap(err, "PAGE_DECODE_FAILED", "failed to decode page notes", 500)
		}
	}
	return page, nil
}
