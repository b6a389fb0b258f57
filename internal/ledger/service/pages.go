package service

import (
	"context"
	"sync"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/events"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/pages"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	ledgersync "github.com/pharmledger/pharmledger-backend/internal/ledger/sync"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/messaging"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// PageService handles custom page business logic. The projector owns the
// live page state; each mutation is written through to the page
// repository.
type PageService struct {
	projector   *pages.Projector
	pageRepo    *repository.PageRepository
	coordinator *ledgersync.Coordinator
	publisher   *events.LedgerEventPublisher
	logger      *logger.Logger

	mu       sync.Mutex
	hydrated map[string]struct{}
}

// NewPageService creates a new page service.
func NewPageService(
	projector *pages.Projector,
	pageRepo *repository.PageRepository,
	coordinator *ledgersync.Coordinator,
	publisher *events.LedgerEventPublisher,
	log *logger.Logger,
) *PageService {
	return &PageService{
		projector:   projector,
		pageRepo:    pageRepo,
		coordinator: coordinator,
		publisher:   publisher,
		logger:      log,
		hydrated:    make(map[string]struct{}),
	}
}

// HydratePages loads the calling tenant's persisted pages into the
// projector. The first page request for a tenant triggers it; later
// calls are no-ops.
func (s *PageService) HydratePages(ctx context.Context) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, done := s.hydrated[tenantID]; done {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	persisted, err := s.pageRepo.List(ctx)
	if err != nil {
		return err
	}
	s.projector.Load(persisted)

	s.mu.Lock()
	s.hydrated[tenantID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// CreatePage creates an empty custom page.
func (s *PageService) CreatePage(ctx context.Context, name string) (domain.CustomPage, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return domain.CustomPage{}, errors.Unauthorized("missing session scope")
	}

	if err := s.HydratePages(ctx); err != nil {
		return domain.CustomPage{}, err
	}

	page, err := s.projector.CreatePage(tenantID, name)
	if err != nil {
		return domain.CustomPage{}, err
	}
	if err := s.pageRepo.Save(ctx, page); err != nil {
		return domain.CustomPage{}, err
	}
	s.publisher.PublishPageChanged(ctx, messaging.EventPageCreated, tenantID, page.Name)
	return page, nil
}

// ListPages returns the tenant's pages.
func (s *PageService) ListPages(ctx context.Context) ([]domain.CustomPage, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("missing session scope")
	}
	if err := s.HydratePages(ctx); err != nil {
		return nil, err
	}
	return s.projector.ListPages(tenantID), nil
}

// GetPage returns one page.
func (s *PageService) GetPage(ctx context.Context, pageID string) (domain.CustomPage, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return domain.CustomPage{}, errors.Unauthorized("missing session scope")
	}
	if err := s.HydratePages(ctx); err != nil {
		return domain.CustomPage{}, err
	}
	return s.projector.Page(tenantID, pageID)
}

// DeletePage removes a page from the projector and persistence.
func (s *PageService) DeletePage(ctx context.Context, pageID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.Unauthorized("missing session scope")
	}

	if err := s.HydratePages(ctx); err != nil {
		return err
	}

	page, err := s.projector.Page(tenantID, pageID)
	if err != nil {
		return err
	}
	if err := s.projector.DeletePage(tenantID, pageID); err != nil {
		return err
	}
	if err := s.pageRepo.Delete(ctx, pageID); err != nil {
		return err
	}
	s.publisher.PublishPageChanged(ctx, messaging.EventPageDeleted, tenantID, page.Name)
	return nil
}

// AddItemsToPage copies the named ledger items onto the page. Names the
// page already carries are skipped, not duplicated.
func (s *PageService) AddItemsToPage(ctx context.Context, pageID string, items []domain.Item) (added, skipped []string, err error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, nil, errors.Unauthorized("missing session scope")
	}

	if err := s.HydratePages(ctx); err != nil {
		return nil, nil, err
	}

	added, skipped, err = s.projector.AddItemsToPage(tenantID, pageID, items)
	if err != nil {
		return nil, nil, err
	}
	if len(added) > 0 {
		if err := s.savePage(ctx, tenantID, pageID); err != nil {
			return nil, nil, err
		}
	}
	return added, skipped, nil
}

// RemoveItemFromPage drops one item from the page.
func (s *PageService) RemoveItemFromPage(ctx context.Context, pageID, itemName string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.Unauthorized("missing session scope")
	}
	if err := s.HydratePages(ctx); err != nil {
		return err
	}
	if err := s.projector.RemoveItemFromPage(tenantID, pageID, itemName); err != nil {
		return err
	}
	return s.savePage(ctx, tenantID, pageID)
}

// SetNote sets or clears a page-local item note.
func (s *PageService) SetNote(ctx context.Context, pageID, itemName, note string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.Unauthorized("missing session scope")
	}
	if err := s.HydratePages(ctx); err != nil {
		return err
	}
	if err := s.projector.SetNote(tenantID, pageID, itemName, note); err != nil {
		return err
	}
	return s.savePage(ctx, tenantID, pageID)
}

// SyncPageWithInventory refreshes page items from a source month. The
// source pharmacy must be within the caller's scope.
func (s *PageService) SyncPageWithInventory(ctx context.Context, pageID, pharmacyID, month string) (pages.SyncResult, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return pages.SyncResult{}, errors.Unauthorized("missing session scope")
	}
	if err := scope.AuthorizePharmacy(pharmacyID); err != nil {
		return pages.SyncResult{}, errors.Forbidden("pharmacy is outside your scope")
	}
	monthKey, err := domain.ParseMonthKey(month)
	if err != nil {
		return pages.SyncResult{}, errors.Validation(map[string]string{"month": "must be formatted as YYYY-MM"})
	}

	if err := s.HydratePages(ctx); err != nil {
		return pages.SyncResult{}, err
	}

	source := domain.ScopeKey{TenantID: scope.TenantID, PharmacyID: pharmacyID, Month: monthKey}
	if err := s.coordinator.Hydrate(ctx, source); err != nil {
		return pages.SyncResult{}, err
	}

	result, err := s.projector.SyncPageWithInventory(scope.TenantID, pageID, source)
	if err != nil {
		return pages.SyncResult{}, err
	}
	if err := s.savePage(ctx, scope.TenantID, pageID); err != nil {
		return pages.SyncResult{}, err
	}
	return result, nil
}

// UpdateItemInBoth fans one field patch out to the page and the same
// item in each target month. Months touched successfully are scheduled
// for persistence; failures are reported, not rolled back.
func (s *PageService) UpdateItemInBoth(ctx context.Context, pageID, itemName string, patch store.ItemPatch, targets []domain.ScopeKey) (pages.FanoutResult, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return pages.FanoutResult{}, errors.Unauthorized("missing session scope")
	}
	for _, key := range targets {
		if key.TenantID != scope.TenantID {
			return pages.FanoutResult{}, errors.Forbidden("target month is outside your tenant")
		}
		if err := scope.AuthorizePharmacy(key.PharmacyID); err != nil {
			return pages.FanoutResult{}, errors.Forbidden("pharmacy is outside your scope")
		}
	}

	if err := s.HydratePages(ctx); err != nil {
		return pages.FanoutResult{}, err
	}

	result, err := s.projector.UpdateItemInBoth(scope.TenantID, pageID, itemName, patch, targets)
	if err != nil {
		return pages.FanoutResult{}, err
	}

	for _, key := range result.Applied {
		s.coordinator.MarkDirty(key)
	}
	if result.PageUpdated {
		if err := s.savePage(ctx, scope.TenantID, pageID); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *PageService) savePage(ctx context.Context, tenantID, pageID string) error {
	page, err := s.projector.Page(tenantID, pageID)
	if err != nil {
		return err
	}
	if err := s.pageRepo.Save(ctx, page); err != nil {
		return err
	}
	s.publisher.PublishPageChanged(ctx, messaging.EventPageUpdated, tenantID, page.Name)
	return nil
}
