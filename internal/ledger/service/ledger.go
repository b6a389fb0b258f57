// Package service orchestrates ledger operations: scope checks, the
// in-memory store, the sync coordinator and the outbound event channel.
package service

import (
	"context"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/derive"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/events"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	ledgersync "github.com/pharmledger/pharmledger-backend/internal/ledger/sync"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// LedgerService handles ledger month and item business logic.
type LedgerService struct {
	store        *store.Store
	coordinator  *ledgersync.Coordinator
	pharmacyRepo *repository.PharmacyRepository
	publisher    *events.LedgerEventPublisher
	logger       *logger.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(
	st *store.Store,
	coordinator *ledgersync.Coordinator,
	pharmacyRepo *repository.PharmacyRepository,
	publisher *events.LedgerEventPublisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		store:        st,
		coordinator:  coordinator,
		pharmacyRepo: pharmacyRepo,
		publisher:    publisher,
		logger:       log,
	}
}

// ItemView is an item together with its derived quantities.
type ItemView struct {
	Index int `json:"index"`
	domain.Item
	TotalDispensed      int     `json:"total_dispensed"`
	TotalIncoming       int     `json:"total_incoming"`
	OpeningPlusIncoming int     `json:"opening_plus_incoming"`
	CurrentStock        int     `json:"current_stock"`
	RemainingValue      float64 `json:"remaining_value"`
}

// MonthView is the API shape of one ledger month.
type MonthView struct {
	PharmacyID string     `json:"pharmacy_id"`
	Month      string     `json:"month"`
	Days       int        `json:"days"`
	Revision   int64      `json:"revision"`
	Items      []ItemView `json:"items"`
	SyncState  string     `json:"sync_state"`
}

// scopedKey authorizes the pharmacy against the session scope and builds
// the store key. Every ledger operation funnels through this check.
func (s *LedgerService) scopedKey(ctx context.Context, pharmacyID string, month string) (domain.ScopeKey, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return domain.ScopeKey{}, errors.Unauthorized("missing session scope")
	}
	if err := scope.AuthorizePharmacy(pharmacyID); err != nil {
		return domain.ScopeKey{}, errors.Forbidden("pharmacy is outside your scope")
	}
	monthKey, err := domain.ParseMonthKey(month)
	if err != nil {
		return domain.ScopeKey{}, errors.Validation(map[string]string{"month": "must be formatted as YYYY-MM"})
	}
	return domain.ScopeKey{TenantID: scope.TenantID, PharmacyID: pharmacyID, Month: monthKey}, nil
}

// OpenMonth makes a month available locally, hydrating from persistence
// when needed. Months are created lazily on first open.
func (s *LedgerService) OpenMonth(ctx context.Context, pharmacyID, month string) (MonthView, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return MonthView{}, err
	}

	existed := s.store.Has(key)
	if err := s.coordinator.Hydrate(ctx, key); err != nil {
		return MonthView{}, err
	}
	if !existed {
		if snap, ok := s.store.Snapshot(key); ok && snap.Revision == 0 && len(snap.Items) == 0 {
			s.publisher.PublishMonthCreated(ctx, key)
		}
	}
	return s.monthView(key)
}

// GetMonth returns the month with derived per-item quantities.
func (s *LedgerService) GetMonth(ctx context.Context, pharmacyID, month string) (MonthView, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return MonthView{}, err
	}
	if err := s.coordinator.Hydrate(ctx, key); err != nil {
		return MonthView{}, err
	}
	return s.monthView(key)
}

func (s *LedgerService) monthView(key domain.ScopeKey) (MonthView, error) {
	snapshot, ok := s.store.Snapshot(key)
	if !ok {
		return MonthView{}, errors.NotFound("monthly ledger")
	}

	view := MonthView{
		PharmacyID: key.PharmacyID,
		Month:      string(key.Month),
		Days:       key.Month.Days(),
		Revision:   snapshot.Revision,
		Items:      make([]ItemView, len(snapshot.Items)),
		SyncState:  s.coordinator.StateOf(key).String(),
	}
	for i, it := range snapshot.Items {
		view.Items[i] = ItemView{
			Index:               i,
			Item:                it,
			TotalDispensed:      derive.TotalDispensed(it),
			TotalIncoming:       derive.TotalIncoming(it),
			OpeningPlusIncoming: derive.OpeningPlusIncoming(it),
			CurrentStock:        derive.CurrentStock(it),
			RemainingValue:      derive.RemainingValue(it),
		}
	}
	return view, nil
}

// AddItem appends an empty item row to the month.
func (s *LedgerService) AddItem(ctx context.Context, pharmacyID, month string) (int, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return 0, err
	}
	if err := s.coordinator.Hydrate(ctx, key); err != nil {
		return 0, err
	}
	return s.store.AddItem(key), nil
}

// UpdateItem merges a field patch into the item. The in-memory edit is
// applied unconditionally; an item failing validation stays local and is
// reported back, but is not scheduled for persistence.
func (s *LedgerService) UpdateItem(ctx context.Context, pharmacyID, month string, index int, patch store.ItemPatch) error {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return err
	}
	if err := s.store.UpdateItem(key, index, patch); err != nil {
		return err
	}
	return s.markIfValid(key, index)
}

// SetDailyDispense writes one dispense cell. Whether the value lands in a
// category bucket follows the pharmacy's settings at write time.
func (s *LedgerService) SetDailyDispense(ctx context.Context, pharmacyID, month string, index, day int, value float64, category domain.DispenseCategory) error {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return err
	}
	if err := validateDay(key.Month, day); err != nil {
		return err
	}
	if value < 0 {
		return errors.Validation(map[string]string{"value": "must not be negative"})
	}

	pharmacy, err := s.pharmacyRepo.GetByID(ctx, pharmacyID)
	if err != nil {
		return err
	}
	categoriesEnabled := pharmacy.Settings.EnableDispenseCategories
	if categoriesEnabled && category != "" && category != domain.CategoryPatient && category != domain.CategoryScissors {
		return errors.Validation(map[string]string{"category": "must be patient or scissors"})
	}

	if err := s.store.SetDailyDispense(key, index, day, value, category, categoriesEnabled); err != nil {
		return err
	}
	return s.markIfValid(key, index)
}

// SetDailyIncoming writes one incoming cell. Quantity and source travel
// together but either can be updated alone.
func (s *LedgerService) SetDailyIncoming(ctx context.Context, pharmacyID, month string, index, day int, value *float64, source *domain.IncomingSource) error {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return err
	}
	if err := validateDay(key.Month, day); err != nil {
		return err
	}
	if value != nil && *value < 0 {
		return errors.Validation(map[string]string{"value": "must not be negative"})
	}
	if source != nil {
		switch *source {
		case domain.SourceFactory, domain.SourceAuthority, domain.SourceScissors, domain.SourceUnspecified:
		default:
			return errors.Validation(map[string]string{"source": "must be factory, authority or scissors"})
		}
	}

	if err := s.store.SetDailyIncoming(key, index, day, value, source); err != nil {
		return err
	}
	return s.markIfValid(key, index)
}

// DeleteItem removes the item from this month only. Other months keep
// their own copies of the same item name.
func (s *LedgerService) DeleteItem(ctx context.Context, pharmacyID, month string, index int) error {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(key, index); err != nil {
		return err
	}
	s.coordinator.MarkDirty(key)
	return nil
}

// Flush forces a dirty month to persist immediately.
func (s *LedgerService) Flush(ctx context.Context, pharmacyID, month string) error {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return err
	}
	s.coordinator.Flush(key)
	return nil
}

// markIfValid schedules persistence unless the edited item would fail
// validation. Invalid items stay in memory so the user can finish them.
func (s *LedgerService) markIfValid(key domain.ScopeKey, index int) error {
	it, err := s.store.Item(key, index)
	if err != nil {
		return err
	}
	if err := domain.ValidateItem(it); err != nil {
		s.logger.Debug().
			Str("month", string(key.Month)).
			Int("index", index).
			Msg("item failed validation, edit retained locally")
		return err
	}
	s.coordinator.MarkDirty(key)
	return nil
}

func validateDay(month domain.MonthKey, day int) error {
	if day < 1 || day > month.Days() {
		return errors.Validation(map[string]string{"day": "is outside the month"})
	}
	return nil
}
