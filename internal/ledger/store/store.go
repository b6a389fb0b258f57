// Package store holds the in-memory, optimistic copy of ledger months.
// Mutations apply here synchronously; the sync coordinator persists them
// remotely after a debounce, and inbound real-time snapshots replace whole
// months via Replace.
package store

import (
	"sync"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
)

// ItemPatch is a shallow merge applied by UpdateItem. Nil fields are left
// untouched; the day maps are never replaced through a patch, only through
// the dedicated day setters.
type ItemPatch struct {
	Name       *string  `json:"name,omitempty"`
	Opening    *float64 `json:"opening,omitempty"`
	UnitPrice  *float64 `json:"unit_price,omitempty"`
	PageNumber *int     `json:"page_number,omitempty"`
}

// Store keeps one item collection per (tenant, pharmacy, month).
type Store struct {
	mu     sync.RWMutex
	months map[domain.ScopeKey]*domain.MonthlyLedger
}

// New creates an empty store.
func New() *Store {
	return &Store{
		months: make(map[domain.ScopeKey]*domain.MonthlyLedger),
	}
}

// EnsureMonth creates an empty ledger for the key if none exists yet.
// Invoked whenever the active month changes; months are created lazily and
// never deleted.
func (s *Store) EnsureMonth(key domain.ScopeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(key)
}

func (s *Store) ensureLocked(key domain.ScopeKey) *domain.MonthlyLedger {
	if l, ok := s.months[key]; ok {
		return l
	}
	l := &domain.MonthlyLedger{
		TenantID:   key.TenantID,
		PharmacyID: key.PharmacyID,
		Month:      key.Month,
	}
	s.months[key] = l
	return l
}

// AddItem appends a fresh empty item and returns its index. No uniqueness
// check against existing blank names; multiple blank items may coexist
// until they are filled in.
func (s *Store) AddItem(key domain.ScopeKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	l.Items = append(l.Items, domain.NewItem())
	return len(l.Items) - 1
}

// UpdateItem shallow-merges the patch into the item at index. Untouched
// nested maps keep their identity.
func (s *Store) UpdateItem(key domain.ScopeKey, index int, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	if index < 0 || index >= len(l.Items) {
		return errors.NotFound("item")
	}
	it := &l.Items[index]

	if patch.Name != nil {
		it.Name = *patch.Name
	}
	if patch.Opening != nil {
		it.Opening = *patch.Opening
	}
	if patch.UnitPrice != nil {
		it.UnitPrice = *patch.UnitPrice
	}
	if patch.PageNumber != nil {
		it.PageNumber = patch.PageNumber
	}
	return nil
}

// SetDailyDispense writes one day's dispense cell. With categories enabled
// the value goes into the named sub-bucket, initializing the record if the
// day held nothing or a plain number; with categories disabled the day is
// overwritten with a plain number. Existing values of the other shape are
// left as they are; flipping the pharmacy setting never migrates old days.
func (s *Store) SetDailyDispense(key domain.ScopeKey, index, day int, value float64, category domain.DispenseCategory, categoriesEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	if index < 0 || index >= len(l.Items) {
		return errors.NotFound("item")
	}
	it := &l.Items[index]
	if it.DailyDispense == nil {
		it.DailyDispense = make(map[int]domain.DispenseValue)
	}

	if categoriesEnabled {
		it.DailyDispense[day] = it.DailyDispense[day].WithCategory(category, value)
	} else {
		it.DailyDispense[day] = domain.PlainDispense(value)
	}
	return nil
}

// SetDailyIncoming writes one day's incoming quantity and/or source. The
// two maps are updated together but stay logically separate: a nil value
// keeps the existing quantity while changing the source, and a nil source
// keeps the recorded source while changing the quantity.
func (s *Store) SetDailyIncoming(key domain.ScopeKey, index, day int, value *float64, source *domain.IncomingSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	if index < 0 || index >= len(l.Items) {
		return errors.NotFound("item")
	}
	it := &l.Items[index]
	if it.DailyIncoming == nil {
		it.DailyIncoming = make(map[int]float64)
	}
	if it.IncomingSource == nil {
		it.IncomingSource = make(map[int]domain.IncomingSource)
	}

	if value != nil {
		it.DailyIncoming[day] = *value
	}
	if source != nil {
		it.IncomingSource[day] = *source
	}
	return nil
}

// DeleteItem removes the item from this month's collection only. Ledgers
// of other months keep their same-named items; deletion is not retroactive.
func (s *Store) DeleteItem(key domain.ScopeKey, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	if index < 0 || index >= len(l.Items) {
		return errors.NotFound("item")
	}
	l.Items = append(l.Items[:index], l.Items[index+1:]...)
	return nil
}

// Replace overwrites the month's item collection wholesale with a remote
// snapshot. There is no merge against uncommitted local edits; the caller
// (the sync coordinator) decides whether the snapshot should win.
func (s *Store) Replace(key domain.ScopeKey, items []domain.Item, revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(key)
	l.Items = domain.CloneItems(items)
	l.Revision = revision
}

// SetRevision records the revision assigned by a successful remote save.
func (s *Store) SetRevision(key domain.ScopeKey, revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(key).Revision = revision
}

// Snapshot returns a deep copy of the month, safe to hand to a writer
// while local edits continue.
func (s *Store) Snapshot(key domain.ScopeKey) (domain.MonthlyLedger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.months[key]
	if !ok {
		return domain.MonthlyLedger{}, false
	}
	return l.Clone(), true
}

// Item returns a deep copy of one item.
func (s *Store) Item(key domain.ScopeKey, index int) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.months[key]
	if !ok || index < 0 || index >= len(l.Items) {
		return domain.Item{}, errors.NotFound("item")
	}
	return l.Items[index].Clone(), nil
}

// MonthsFor returns deep copies of every loaded month for a tenant and
// pharmacy, keyed by month. Used to build trailing consumption windows.
func (s *Store) MonthsFor(tenantID, pharmacyID string) map[domain.MonthKey]domain.MonthlyLedger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.MonthKey]domain.MonthlyLedger)
	for key, l := range s.months {
		if key.TenantID == tenantID && key.PharmacyID == pharmacyID {
			out[key.Month] = l.Clone()
		}
	}
	return out
}

// Has reports whether the month is loaded.
func (s *Store) Has(key domain.ScopeKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.months[key]
	return ok
}
