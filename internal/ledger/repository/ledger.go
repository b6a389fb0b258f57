// Package repository persists ledger documents, pharmacies, staff and
// custom pages in Postgres. Every query runs inside a tenant RLS
// transaction.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
)

// ledgerRow is the monthly_ledgers table shape. Items are stored as one
// JSONB document per (pharmacy, month).
type ledgerRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	PharmacyID string `db:"pharmacy_id"`
	Month      string `db:"month"`
	Items      []byte `db:"items"`
	Revision   int64  `db:"revision"`
}

// LedgerRepository handles monthly ledger document persistence.
type LedgerRepository struct {
	db *database.DB
}

func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// SaveMonth replaces the whole month document. The write carries the
// caller's base revision; if the stored row has moved past it the write
// is rejected with a conflict so the caller can reconcile. Returns the
// revision the store acknowledged.
//
// The tenant comes from the document itself: saves originate from the
// sync coordinator's background flush, not from a request context.
func (r *LedgerRepository) SaveMonth(ctx context.Context, ledger domain.MonthlyLedger) (int64, error) {
	items, err := json.Marshal(ledger.Items)
	if err != nil {
		return 0, errors.Wrap(err, "LEDGER_ENCODE_FAILED", "failed to encode ledger items", 500)
	}

	var revision int64
	err = r.db.WithTenantRLS(ctx, ledger.TenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO monthly_ledgers (id, tenant_id, pharmacy_id, month, items, revision)
			VALUES ($1, $2, $3, $4, $5, 1)
			ON CONFLICT (tenant_id, pharmacy_id, month)
			DO UPDATE SET items = EXCLUDED.items,
			              revision = monthly_ledgers.revision + 1,
			              updated_at = NOW()
			WHERE monthly_ledgers.revision = $6
			RETURNING revision
		`
		return r.db.QueryRowxContext(ctx, query,
			uuid.New().String(), ledger.TenantID, ledger.PharmacyID,
			string(ledger.Month), items, ledger.Revision,
		).Scan(&revision)
	})

	if err == sql.ErrNoRows {
		return 0, errors.Conflict("ledger month was modified by another session")
	}
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return 0, mapped
		}
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return 0, err
		}
		// Anything the driver reports that is not a mapped constraint
		// is treated as retryable.
		return 0, errors.TransientSync(err)
	}
	return revision, nil
}

// LoadMonth fetches one month document.
func (r *LedgerRepository) LoadMonth(ctx context.Context, key domain.ScopeKey) (domain.MonthlyLedger, error) {
	var row ledgerRow
	err := r.db.WithTenantRLS(ctx, key.TenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, pharmacy_id, month, items, revision
			FROM monthly_ledgers
			WHERE pharmacy_id = $1 AND month = $2
		`
		return r.db.GetContext(ctx, &row, query, key.PharmacyID, string(key.Month))
	})

	if err == sql.ErrNoRows {
		return domain.MonthlyLedger{}, errors.NotFound("monthly ledger")
	}
	if err != nil {
		return domain.MonthlyLedger{}, err
	}
	return rowToLedger(row)
}

// ListMonths returns every stored month for a pharmacy, oldest first.
// Feeds trailing-window hydration for consumption reports.
func (r *LedgerRepository) ListMonths(ctx context.Context, tenantID, pharmacyID string) ([]domain.MonthlyLedger, error) {
	var rows []ledgerRow
	err := r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, pharmacy_id, month, items, revision
			FROM monthly_ledgers
			WHERE pharmacy_id = $1
			ORDER BY month
		`
		return r.db.SelectContext(ctx, &rows, query, pharmacyID)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.MonthlyLedger, 0, len(rows))
	for _, row := range rows {
		ledger, err := rowToLedger(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger)
	}
	return out, nil
}

// LoadWindow fetches the months in the trailing window ending at the
// given month. Missing months are simply absent from the result.
func (r *LedgerRepository) LoadWindow(ctx context.Context, key domain.ScopeKey, size int) (map[domain.MonthKey]domain.MonthlyLedger, error) {
	window := key.Month.Window(size)
	months := make([]string, len(window))
	for i, m := range window {
		months[i] = string(m)
	}

	var rows []ledgerRow
	err := r.db.WithTenantRLS(ctx, key.TenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, pharmacy_id, month, items, revision
			FROM monthly_ledgers
			WHERE pharmacy_id = $1 AND month = ANY($2)
		`
		return r.db.SelectContext(ctx, &rows, query, key.PharmacyID, pq.Array(months))
	})
	if err != nil {
		return nil, err
	}

	out := make(map[domain.MonthKey]domain.MonthlyLedger, len(rows))
	for _, row := range rows {
		ledger, err := rowToLedger(row)
		if err != nil {
			return nil, err
		}
		out[ledger.Month] = ledger
	}
	return out, nil
}

func rowToLedger(row ledgerRow) (domain.MonthlyLedger, error) {
	var items []domain.Item
	if len(row.Items) > 0 {
		if err := json.Unmarshal(row.Items, &items); err != nil {
			return domain.MonthlyLedger{}, errors.Wrap(err, "LEDGER_DECODE_FAILED", "failed to decode ledger items", 500)
		}
	}
	return domain.MonthlyLedger{
		TenantID:   row.TenantID,
		PharmacyID: row.PharmacyID,
		Month:      domain.MonthKey(row.Month),
		Items:      items,
		Revision:   row.Revision,
	}, nil
}
