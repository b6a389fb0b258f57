package service_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	ledgersync "github.com/pharmledger/pharmledger-backend/internal/ledger/sync"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

const testTenant = "4be3b2bf-8a11-4f0c-9931-16c6c06bd4e9"

type fixture struct {
	svc   *service.LedgerService
	store *store.Store
	coord *ledgersync.Coordinator
	mock  sqlmock.Sqlmock
}

type noopRemote struct{}

func (noopRemote) SaveMonth(ctx context.Context, ledger domain.MonthlyLedger) (int64, error) {
	return ledger.Revision + 1, nil
}

func (noopRemote) LoadMonth(ctx context.Context, key domain.ScopeKey) (domain.MonthlyLedger, error) {
	return domain.MonthlyLedger{}, apperrors.NotFound("monthly ledger")
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := database.NewWithDB(raw, logger.Nop())
	st := store.New()
	coord := ledgersync.New(st, noopRemote{}, nil, config.SyncConfig{
		DebounceDelay: time.Hour, // debounce never fires during tests
		SaveRetries:   1,
		RetryBackoff:  time.Millisecond,
	}, logger.Nop())
	t.Cleanup(coord.Close)

	svc := service.NewLedgerService(st, coord, repository.NewPharmacyRepository(db), nil, logger.Nop())
	return &fixture{svc: svc, store: st, coord: coord, mock: mock}
}

func leadCtx() context.Context {
	return tenant.WithScope(context.Background(), tenant.Scope{
		TenantID: testTenant,
		UserID:   "u-1",
		Username: "owner",
		Role:     tenant.RoleLead,
	})
}

func seniorCtx(pharmacyID string) context.Context {
	return tenant.WithScope(context.Background(), tenant.Scope{
		TenantID:   testTenant,
		UserID:     "u-2",
		Username:   "senior",
		Role:       tenant.RoleSenior,
		PharmacyID: pharmacyID,
	})
}

func (f *fixture) expectPharmacySettings(t *testing.T, pharmacyID string, settings domain.PharmacySettings) {
	t.Helper()
	encoded, err := json.Marshal(settings)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectExec("SET LOCAL search_path TO public").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.current_tenant = '" + testTenant + "'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectQuery("SELECT (.+) FROM pharmacies").
		WithArgs(pharmacyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "address", "settings", "created_at", "updated_at"}).
			AddRow(pharmacyID, testTenant, "Main branch", "", encoded, time.Now(), time.Now()))
	f.mock.ExpectCommit()
}

func TestUpdateItem_InvalidEditRetainedButNotScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	idx, err := f.svc.AddItem(ctx, "ph-1", "2024-05")
	require.NoError(t, err)

	bad := -10.0
	err = f.svc.UpdateItem(ctx, "ph-1", "2024-05", idx, store.ItemPatch{Opening: &bad})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	// The edit survives in memory for the user to correct.
	key := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05"}
	it, err := f.store.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, -10.0, it.Opening)

	// But nothing was scheduled for persistence.
	assert.Equal(t, ledgersync.StateIdle, f.coord.StateOf(key))
}

func TestUpdateItem_ValidEditMarksMonthDirty(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	idx, err := f.svc.AddItem(ctx, "ph-1", "2024-05")
	require.NoError(t, err)

	name := "Metformin"
	require.NoError(t, f.svc.UpdateItem(ctx, "ph-1", "2024-05", idx, store.ItemPatch{Name: &name}))

	key := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05"}
	assert.Equal(t, ledgersync.StateDirty, f.coord.StateOf(key))
}

func TestSetDailyDispense_FollowsPharmacyCategorySetting(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	idx, err := f.svc.AddItem(ctx, "ph-1", "2024-05")
	require.NoError(t, err)

	settings := domain.DefaultPharmacySettings()
	settings.EnableDispenseCategories = true
	f.expectPharmacySettings(t, "ph-1", settings)

	require.NoError(t, f.svc.SetDailyDispense(ctx, "ph-1", "2024-05", idx, 3, 5, domain.CategoryScissors))

	key := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05"}
	it, err := f.store.Item(key, idx)
	require.NoError(t, err)
	assert.True(t, it.DailyDispense[3].Categorized)
	assert.Equal(t, 5.0, it.DailyDispense[3].Scissors)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSetDailyDispense_PlainWhenCategoriesDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	idx, err := f.svc.AddItem(ctx, "ph-1", "2024-05")
	require.NoError(t, err)

	f.expectPharmacySettings(t, "ph-1", domain.DefaultPharmacySettings())
	require.NoError(t, f.svc.SetDailyDispense(ctx, "ph-1", "2024-05", idx, 3, 7, ""))

	key := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05"}
	it, err := f.store.Item(key, idx)
	require.NoError(t, err)
	assert.False(t, it.DailyDispense[3].Categorized)
	assert.Equal(t, 7.0, it.DailyDispense[3].Total())
}

func TestSetDailyDispense_RejectsDayOutsideMonth(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	idx, err := f.svc.AddItem(ctx, "ph-1", "2024-04")
	require.NoError(t, err)

	// April has 30 days.
	err = f.svc.SetDailyDispense(ctx, "ph-1", "2024-04", idx, 31, 5, "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestScope_SeniorLimitedToAssignedPharmacy(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(seniorCtx("ph-1"), "ph-2", "2024-05")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	_, err = f.svc.AddItem(seniorCtx("ph-2"), "ph-2", "2024-05")
	assert.NoError(t, err)
}

func TestOpenMonth_RejectsMalformedMonth(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.OpenMonth(leadCtx(), "ph-1", "05-2024")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestDeleteItem_MarksDirtyAndIsMonthLocal(t *testing.T) {
	f := newFixture(t)
	ctx := leadCtx()

	mayIdx, err := f.svc.AddItem(ctx, "ph-1", "2024-05")
	require.NoError(t, err)
	name := "Aspirin"
	require.NoError(t, f.svc.UpdateItem(ctx, "ph-1", "2024-05", mayIdx, store.ItemPatch{Name: &name}))

	juneIdx, err := f.svc.AddItem(ctx, "ph-1", "2024-06")
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateItem(ctx, "ph-1", "2024-06", juneIdx, store.ItemPatch{Name: &name}))

	require.NoError(t, f.svc.DeleteItem(ctx, "ph-1", "2024-05", mayIdx))

	may := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-05"}
	june := domain.ScopeKey{TenantID: testTenant, PharmacyID: "ph-1", Month: "2024-06"}

	maySnap, _ := f.store.Snapshot(may)
	assert.Empty(t, maySnap.Items)
	juneSnap, _ := f.store.Snapshot(june)
	assert.Len(t, juneSnap.Items, 1)
	assert.Equal(t, ledgersync.StateDirty, f.coord.StateOf(may))
}
