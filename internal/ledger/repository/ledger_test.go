package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

const testTenant = "9f1c7b9a-52f1-4a18-9f0f-0a40cbeefd01"

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return database.NewWithDB(raw, logger.Nop()), mock
}

// expectRLS matches the transaction preamble WithTenantRLS emits.
func expectRLS(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL search_path TO public").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.current_tenant = '" + tenantID + "'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func testLedger() domain.MonthlyLedger {
	it := domain.NewItem()
	it.Name = "Paracetamol"
	it.Opening = 200
	return domain.MonthlyLedger{
		TenantID:   testTenant,
		PharmacyID: "ph-1",
		Month:      "2024-05",
		Items:      []domain.Item{it},
		Revision:   0,
	}
}

func TestLedgerRepository_SaveMonth(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("INSERT INTO monthly_ledgers").
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(int64(1)))
	mock.ExpectCommit()

	revision, err := repo.SaveMonth(context.Background(), testLedger())
	require.NoError(t, err)
	assert.Equal(t, int64(1), revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_SaveMonth_StaleRevisionConflicts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	expectRLS(mock, testTenant)
	// The conditional upsert returns no row when the stored revision
	// has already moved past the caller's base.
	mock.ExpectQuery("INSERT INTO monthly_ledgers").
		WillReturnRows(sqlmock.NewRows([]string{"revision"}))
	mock.ExpectRollback()

	_, err := repo.SaveMonth(context.Background(), testLedger())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.False(t, apperrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_SaveMonth_DriverErrorIsTransient(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("INSERT INTO monthly_ledgers").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err := repo.SaveMonth(context.Background(), testLedger())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_LoadMonth(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	ledger := testLedger()
	ledger.Revision = 3
	items, err := json.Marshal(ledger.Items)
	require.NoError(t, err)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM monthly_ledgers").
		WithArgs("ph-1", "2024-05").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "pharmacy_id", "month", "items", "revision"}).
			AddRow("doc-1", testTenant, "ph-1", "2024-05", items, int64(3)))
	mock.ExpectCommit()

	got, err := repo.LoadMonth(context.Background(), domain.ScopeKey{
		TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Paracetamol", got.Items[0].Name)
	assert.Equal(t, 200.0, got.Items[0].Opening)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_LoadMonth_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM monthly_ledgers").
		WithArgs("ph-1", "2024-05").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "pharmacy_id", "month", "items", "revision"}))
	mock.ExpectRollback()

	_, err := repo.LoadMonth(context.Background(), domain.ScopeKey{
		TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_LoadMonth_RoundTripsDispenseShapes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	// Items persisted by older clients carry the legacy day shape.
	stored := []byte(`[{
		"name": "Ibuprofen",
		"opening": 50,
		"unit_price": 1.2,
		"daily_dispense": {
			"1": 5,
			"2": {"patient": 3, "scissors": 1},
			"3": {"quantity": 4, "category": "scissors"}
		}
	}]`)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM monthly_ledgers").
		WithArgs("ph-1", "2024-05").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "pharmacy_id", "month", "items", "revision"}).
			AddRow("doc-1", testTenant, "ph-1", "2024-05", stored, int64(1)))
	mock.ExpectCommit()

	got, err := repo.LoadMonth(context.Background(), domain.ScopeKey{
		TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05",
	})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)

	dd := got.Items[0].DailyDispense
	assert.Equal(t, 5.0, dd[1].Total())
	assert.False(t, dd[1].Categorized)
	assert.Equal(t, 4.0, dd[2].Total())
	assert.True(t, dd[2].Categorized)
	assert.Equal(t, 4.0, dd[3].Scissors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_ListMonths(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewLedgerRepository(db)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM monthly_ledgers").
		WithArgs("ph-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "pharmacy_id", "month", "items", "revision"}).
			AddRow("doc-1", testTenant, "ph-1", "2024-04", []byte(`[]`), int64(2)).
			AddRow("doc-2", testTenant, "ph-1", "2024-05", []byte(`[]`), int64(1)))
	mock.ExpectCommit()

	months, err := repo.ListMonths(context.Background(), testTenant, "ph-1")
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, domain.MonthKey("2024-04"), months[0].Month)
	assert.Equal(t, domain.MonthKey("2024-05"), months[1].Month)
	assert.NoError(t, mock.ExpectationsWereMet())
}
