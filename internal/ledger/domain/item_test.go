package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispenseValue_UnmarshalPlainNumber(t *testing.T) {
	var v domain.DispenseValue
	require.NoError(t, json.Unmarshal([]byte(`12`), &v))
	assert.False(t, v.Categorized)
	assert.Equal(t, 12.0, v.Total())
}

func TestDispenseValue_UnmarshalCategorized(t *testing.T) {
	var v domain.DispenseValue
	require.NoError(t, json.Unmarshal([]byte(`{"patient":5,"scissors":3}`), &v))
	assert.True(t, v.Categorized)
	assert.Equal(t, 5.0, v.Patient)
	assert.Equal(t, 3.0, v.Scissors)
	assert.Equal(t, 8.0, v.Total())
}

func TestDispenseValue_UnmarshalLegacyShape(t *testing.T) {
	var v domain.DispenseValue
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":7,"category":"scissors"}`), &v))
	assert.True(t, v.Categorized)
	assert.Equal(t, 7.0, v.Scissors)
	assert.Equal(t, 0.0, v.Patient)

	// Legacy shape without a recognized category lands in the patient bucket.
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":4,"category":"other"}`), &v))
	assert.Equal(t, 4.0, v.Patient)
}

func TestDispenseValue_UnrecognizedShapeReadsAsZero(t *testing.T) {
	var v domain.DispenseValue
	require.NoError(t, json.Unmarshal([]byte(`{"unexpected":true}`), &v))
	assert.Equal(t, 0.0, v.Total())
}

func TestDispenseValue_MarshalRoundTrip(t *testing.T) {
	plain, err := json.Marshal(domain.PlainDispense(9))
	require.NoError(t, err)
	assert.JSONEq(t, `9`, string(plain))

	cat, err := json.Marshal(domain.CategorizedDispense(2, 1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"patient":2,"scissors":1}`, string(cat))
}

func TestDispenseValue_WithCategory(t *testing.T) {
	v := domain.PlainDispense(10).WithCategory(domain.CategoryPatient, 4)
	assert.True(t, v.Categorized)
	// Converting a plain value starts a fresh record; the plain quantity
	// is not carried into either bucket.
	assert.Equal(t, 4.0, v.Patient)
	assert.Equal(t, 0.0, v.Scissors)

	v = v.WithCategory(domain.CategoryScissors, 2)
	assert.Equal(t, 4.0, v.Patient)
	assert.Equal(t, 2.0, v.Scissors)
}

func TestMonthKey_WindowSpansYearBoundary(t *testing.T) {
	k, err := domain.ParseMonthKey("2024-01")
	require.NoError(t, err)

	window := k.Window(3)
	assert.Equal(t, []domain.MonthKey{"2023-11", "2023-12", "2024-01"}, window)
}

func TestMonthKey_PrevNext(t *testing.T) {
	k := domain.MonthKey("2024-12")
	assert.Equal(t, domain.MonthKey("2024-11"), k.Prev())
	assert.Equal(t, domain.MonthKey("2025-01"), k.Next())
}

func TestMonthKey_Days(t *testing.T) {
	assert.Equal(t, 29, domain.MonthKey("2024-02").Days())
	assert.Equal(t, 28, domain.MonthKey("2023-02").Days())
	assert.Equal(t, 31, domain.MonthKey("2024-05").Days())
}

func TestParseMonthKey_Invalid(t *testing.T) {
	_, err := domain.ParseMonthKey("2024-5")
	assert.Error(t, err)
	_, err = domain.ParseMonthKey("may-2024")
	assert.Error(t, err)
}

func TestItem_CloneIsDeep(t *testing.T) {
	it := domain.NewItem()
	it.Name = "Paracetamol 500mg"
	it.DailyDispense[1] = domain.PlainDispense(5)
	it.DailyIncoming[2] = 20
	it.IncomingSource[2] = domain.SourceFactory

	clone := it.Clone()
	clone.DailyDispense[1] = domain.PlainDispense(99)
	clone.DailyIncoming[2] = 0
	clone.IncomingSource[2] = domain.SourceAuthority

	assert.Equal(t, 5.0, it.DailyDispense[1].Total())
	assert.Equal(t, 20.0, it.DailyIncoming[2])
	assert.Equal(t, domain.SourceFactory, it.IncomingSource[2])
}

func TestItem_Empty(t *testing.T) {
	assert.True(t, domain.NewItem().Empty())

	it := domain.NewItem()
	it.DailyDispense[3] = domain.PlainDispense(1)
	assert.False(t, it.Empty())

	it2 := domain.NewItem()
	it2.Opening = 1
	assert.False(t, it2.Empty())
}

func TestValidateItem(t *testing.T) {
	// A brand-new blank item passes.
	assert.NoError(t, domain.ValidateItem(domain.NewItem()))

	// Blank name with data is rejected.
	it := domain.NewItem()
	it.DailyDispense[1] = domain.PlainDispense(3)
	assert.Error(t, domain.ValidateItem(it))

	// Negative opening and unit price are rejected.
	neg := domain.NewItem()
	neg.Name = "Ibuprofen"
	neg.Opening = -1
	assert.Error(t, domain.ValidateItem(neg))

	price := domain.NewItem()
	price.Name = "Ibuprofen"
	price.UnitPrice = -0.5
	assert.Error(t, domain.ValidateItem(price))
}

func TestMonthlyLedger_FindItemIsExactMatch(t *testing.T) {
	l := domain.MonthlyLedger{Items: []domain.Item{
		{Name: "Aspirin"},
		{Name: "aspirin"},
	}}
	assert.Equal(t, 0, l.FindItem("Aspirin"))
	assert.Equal(t, 1, l.FindItem("aspirin"))
	assert.Equal(t, -1, l.FindItem("ASPIRIN"))
}
