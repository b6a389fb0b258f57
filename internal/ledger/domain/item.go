package domain

import (
	"encoding/json"
	"fmt"
)

// IncomingSource tags where a day's incoming quantity came from.
type IncomingSource string

const (
	SourceFactory     IncomingSource = "factory"
	SourceAuthority   IncomingSource = "authority"
	SourceScissors    IncomingSource = "scissors"
	SourceUnspecified IncomingSource = ""
)

// DispenseCategory selects a sub-bucket of a categorized dispense value.
type DispenseCategory string

const (
	CategoryPatient  DispenseCategory = "patient"
	CategoryScissors DispenseCategory = "scissors"
)

// DispenseValue is one day's dispensed quantity. Three wire shapes exist
// and all must stay readable:
//
//   - a plain number
//   - {"patient": n, "scissors": m} when dispense categories are enabled
//   - {"quantity": n, "category": "patient"|"scissors"} (legacy migration shape)
//
// All three normalize here, at the model boundary, into patient/scissors
// buckets so nothing downstream branches on shape. A plain value keeps its
// quantity in the Patient bucket with Categorized false and round-trips
// back to a number.
type DispenseValue struct {
	Patient     float64
	Scissors    float64
	Categorized bool
}

// PlainDispense wraps a plain quantity.
func PlainDispense(qty float64) DispenseValue {
	return DispenseValue{Patient: qty}
}

// CategorizedDispense wraps explicit patient/scissors buckets.
func CategorizedDispense(patient, scissors float64) DispenseValue {
	return DispenseValue{Patient: patient, Scissors: scissors, Categorized: true}
}

// Total returns the full dispensed quantity regardless of shape.
func (v DispenseValue) Total() float64 {
	return v.Patient + v.Scissors
}

// WithCategory returns a copy with the given bucket set, converting a plain
// value into a categorized one.
func (v DispenseValue) WithCategory(cat DispenseCategory, qty float64) DispenseValue {
	out := v
	if !out.Categorized {
		out = DispenseValue{Categorized: true}
	}
	switch cat {
	case CategoryScissors:
		out.Scissors = qty
	default:
		out.Patient = qty
	}
	return out
}

type categorizedShape struct {
	Patient  *float64 `json:"patient"`
	Scissors *float64 `json:"scissors"`
	// legacy shape
	Quantity *float64 `json:"quantity"`
	Category *string  `json:"category"`
}

// UnmarshalJSON accepts all three wire shapes. Unrecognized shapes decode
// as zero rather than failing the whole document.
func (v *DispenseValue) UnmarshalJSON(data []byte) error {
	var plain float64
	if err := json.Unmarshal(data, &plain); err == nil {
		*v = PlainDispense(plain)
		return nil
	}

	var obj categorizedShape
	if err := json.Unmarshal(data, &obj); err != nil {
		*v = DispenseValue{}
		return nil
	}

	if obj.Quantity != nil {
		cat := CategoryPatient
		if obj.Category != nil && DispenseCategory(*obj.Category) == CategoryScissors {
			cat = CategoryScissors
		}
		*v = DispenseValue{Categorized: true}.WithCategory(cat, *obj.Quantity)
		return nil
	}

	out := DispenseValue{Categorized: true}
	if obj.Patient != nil {
		out.Patient = *obj.Patient
	}
	if obj.Scissors != nil {
		out.Scissors = *obj.Scissors
	}
	*v = out
	return nil
}

// MarshalJSON writes a plain number for uncategorized values and the
// patient/scissors record otherwise. The legacy shape is read-only.
func (v DispenseValue) MarshalJSON() ([]byte, error) {
	if !v.Categorized {
		return json.Marshal(v.Patient)
	}
	return json.Marshal(map[string]float64{
		"patient":  v.Patient,
		"scissors": v.Scissors,
	})
}

// Item is a single tracked inventory line within one month's ledger.
// Name is the cross-month join key (exact, case-sensitive match).
type Item struct {
	Name           string                 `json:"name"`
	Opening        float64                `json:"opening"`
	UnitPrice      float64                `json:"unit_price"`
	DailyDispense  map[int]DispenseValue  `json:"daily_dispense,omitempty"`
	DailyIncoming  map[int]float64        `json:"daily_incoming,omitempty"`
	IncomingSource map[int]IncomingSource `json:"incoming_source,omitempty"`
	// PageNumber is a manual cross-reference into the paper register.
	// No effect on calculations.
	PageNumber *int `json:"page_number,omitempty"`
}

// NewItem returns a fresh, still-empty item.
func NewItem() Item {
	return Item{
		DailyDispense:  make(map[int]DispenseValue),
		DailyIncoming:  make(map[int]float64),
		IncomingSource: make(map[int]IncomingSource),
	}
}

// Empty reports whether the item carries no data at all: zero opening and
// no dispense or incoming entries.
func (it Item) Empty() bool {
	if it.Opening != 0 {
		return false
	}
	for _, v := range it.DailyDispense {
		if v.Total() != 0 {
			return false
		}
	}
	for _, v := range it.DailyIncoming {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Day maps are copied so mutating the clone
// never leaks into the original.
func (it Item) Clone() Item {
	out := it
	if it.DailyDispense != nil {
		out.DailyDispense = make(map[int]DispenseValue, len(it.DailyDispense))
		for d, v := range it.DailyDispense {
			out.DailyDispense[d] = v
		}
	}
	if it.DailyIncoming != nil {
		out.DailyIncoming = make(map[int]float64, len(it.DailyIncoming))
		for d, v := range it.DailyIncoming {
			out.DailyIncoming[d] = v
		}
	}
	if it.IncomingSource != nil {
		out.IncomingSource = make(map[int]IncomingSource, len(it.IncomingSource))
		for d, v := range it.IncomingSource {
			out.IncomingSource[d] = v
		}
	}
	if it.PageNumber != nil {
		n := *it.PageNumber
		out.PageNumber = &n
	}
	return out
}

// CloneItems deep-copies an item slice.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// MonthlyLedger is the item collection tracked for one pharmacy in one
// calendar month. Exactly one document exists per (pharmacy, month); it is
// created lazily and never deleted by normal operation.
type MonthlyLedger struct {
	TenantID   string   `json:"tenant_id"`
	PharmacyID string   `json:"pharmacy_id"`
	Month      MonthKey `json:"month"`
	Items      []Item   `json:"items"`
	// Revision counts persisted writes. Stale-revision saves are refused
	// so concurrent whole-month replaces surface instead of silently
	// losing updates.
	Revision int64 `json:"revision"`
}

// Clone returns a deep copy of the ledger.
func (l MonthlyLedger) Clone() MonthlyLedger {
	out := l
	out.Items = CloneItems(l.Items)
	return out
}

// FindItem returns the index of the item with the given name, or -1.
// Exact, case-sensitive match; this is the cross-month join rule.
func (l MonthlyLedger) FindItem(name string) int {
	for i, it := range l.Items {
		if it.Name == name {
			return i
		}
	}
	return -1
}

// ScopeKey identifies a ledger document.
type ScopeKey struct {
	TenantID   string
	PharmacyID string
	Month      MonthKey
}

func (k ScopeKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.PharmacyID, k.Month)
}
