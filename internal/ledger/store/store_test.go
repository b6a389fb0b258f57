package store_test

import (
	"testing"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeKey(month domain.MonthKey) domain.ScopeKey {
	return domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: month}
}

func strPtr(s string) *string         { return &s }
func f64Ptr(f float64) *float64       { return &f }
func srcPtr(s domain.IncomingSource) *domain.IncomingSource { return &s }

func TestAddItem_StartsEmpty(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")

	idx := s.AddItem(key)
	assert.Equal(t, 0, idx)

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, "", it.Name)
	assert.True(t, it.Empty())

	// Multiple blank items may coexist transiently.
	assert.Equal(t, 1, s.AddItem(key))
}

func TestUpdateItem_ShallowMergePreservesSiblings(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)

	require.NoError(t, s.SetDailyDispense(key, idx, 3, 5, "", false))
	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Name: strPtr("Metformin")}))
	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Opening: f64Ptr(40)}))

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, "Metformin", it.Name)
	assert.Equal(t, 40.0, it.Opening)
	assert.Equal(t, 5.0, it.DailyDispense[3].Total())
}

func TestUpdateItem_LastWriteOnOneFieldIsIdempotent(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)

	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Opening: f64Ptr(10)}))
	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Opening: f64Ptr(10)}))

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, it.Opening)
}

func TestUpdateItem_BadIndex(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	assert.Error(t, s.UpdateItem(key, 0, store.ItemPatch{}))
	assert.Error(t, s.UpdateItem(key, -1, store.ItemPatch{}))
}

func TestSetDailyDispense_CategoriesEnabled(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)

	require.NoError(t, s.SetDailyDispense(key, idx, 1, 5, domain.CategoryPatient, true))
	require.NoError(t, s.SetDailyDispense(key, idx, 1, 3, domain.CategoryScissors, true))

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	v := it.DailyDispense[1]
	assert.True(t, v.Categorized)
	assert.Equal(t, 5.0, v.Patient)
	assert.Equal(t, 3.0, v.Scissors)
}

func TestSetDailyDispense_PlainDoesNotMigrateOldCategorizedDays(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)

	// Day 1 written while categories were enabled.
	require.NoError(t, s.SetDailyDispense(key, idx, 1, 5, domain.CategoryPatient, true))
	// Setting later flipped off; day 2 written plain.
	require.NoError(t, s.SetDailyDispense(key, idx, 2, 7, "", false))

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.True(t, it.DailyDispense[1].Categorized)
	assert.False(t, it.DailyDispense[2].Categorized)
	assert.Equal(t, 12.0, it.DailyDispense[1].Total()+it.DailyDispense[2].Total())
}

func TestSetDailyIncoming_QuantityAndSourceAreIndependent(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)

	require.NoError(t, s.SetDailyIncoming(key, idx, 4, f64Ptr(20), srcPtr(domain.SourceFactory)))

	// Changing only the source keeps the quantity.
	require.NoError(t, s.SetDailyIncoming(key, idx, 4, nil, srcPtr(domain.SourceAuthority)))
	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, it.DailyIncoming[4])
	assert.Equal(t, domain.SourceAuthority, it.IncomingSource[4])

	// Changing only the quantity keeps the source.
	require.NoError(t, s.SetDailyIncoming(key, idx, 4, f64Ptr(25), nil))
	it, err = s.Item(key, idx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, it.DailyIncoming[4])
	assert.Equal(t, domain.SourceAuthority, it.IncomingSource[4])
}

func TestDeleteItem_IsMonthLocal(t *testing.T) {
	s := store.New()
	may := scopeKey("2024-05")
	june := scopeKey("2024-06")

	mayIdx := s.AddItem(may)
	require.NoError(t, s.UpdateItem(may, mayIdx, store.ItemPatch{Name: strPtr("Aspirin")}))
	juneIdx := s.AddItem(june)
	require.NoError(t, s.UpdateItem(june, juneIdx, store.ItemPatch{Name: strPtr("Aspirin")}))

	require.NoError(t, s.DeleteItem(may, mayIdx))

	maySnap, ok := s.Snapshot(may)
	require.True(t, ok)
	assert.Empty(t, maySnap.Items)

	juneSnap, ok := s.Snapshot(june)
	require.True(t, ok)
	require.Len(t, juneSnap.Items, 1)
	assert.Equal(t, "Aspirin", juneSnap.Items[0].Name)
}

func TestReplace_OverwritesWholesale(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)
	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Name: strPtr("Local edit")}))

	remote := domain.NewItem()
	remote.Name = "Remote item"
	s.Replace(key, []domain.Item{remote}, 7)

	snap, ok := s.Snapshot(key)
	require.True(t, ok)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Remote item", snap.Items[0].Name)
	assert.Equal(t, int64(7), snap.Revision)
}

func TestSnapshot_IsIsolatedFromLaterMutations(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")
	idx := s.AddItem(key)
	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Name: strPtr("Before")}))

	snap, ok := s.Snapshot(key)
	require.True(t, ok)

	require.NoError(t, s.UpdateItem(key, idx, store.ItemPatch{Name: strPtr("After")}))
	assert.Equal(t, "Before", snap.Items[0].Name)
}

func TestEnsureMonth_Idempotent(t *testing.T) {
	s := store.New()
	key := scopeKey("2024-05")

	s.EnsureMonth(key)
	idx := s.AddItem(key)
	s.EnsureMonth(key)

	it, err := s.Item(key, idx)
	require.NoError(t, err)
	assert.True(t, it.Empty())
	assert.True(t, s.Has(key))
}

func TestMonthsFor_FiltersByScope(t *testing.T) {
	s := store.New()
	s.EnsureMonth(domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: "2024-04"})
	s.EnsureMonth(domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: "2024-05"})
	s.EnsureMonth(domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-2", Month: "2024-05"})
	s.EnsureMonth(domain.ScopeKey{TenantID: "t-2", PharmacyID: "ph-1", Month: "2024-05"})

	months := s.MonthsFor("t-1", "ph-1")
	assert.Len(t, months, 2)
	assert.Contains(t, months, domain.MonthKey("2024-04"))
	assert.Contains(t, months, domain.MonthKey("2024-05"))
}
