// Package pages maintains custom views: tenant-defined named subsets of
// ledger items with page-local annotations. Page items are copies of
// ledger items and drift until explicitly re-synced.
package pages

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

// SyncResult reports a page-to-inventory pull.
type SyncResult struct {
	// Updated lists page item names that matched a ledger item and were
	// refreshed.
	Updated []string `json:"updated"`
	// Unmatched lists page item names absent from the source month. Those
	// items were left untouched.
	Unmatched []string `json:"unmatched"`
}

// TargetError records one ledger month a fan-out update could not reach.
type TargetError struct {
	Key domain.ScopeKey `json:"key"`
	Err error           `json:"-"`
}

// FanoutResult reports a combined page-and-ledger update. The command is
// not transactional: the page and each target month succeed or fail
// independently.
type FanoutResult struct {
	PageUpdated bool              `json:"page_updated"`
	Applied     []domain.ScopeKey `json:"applied"`
	Failed      []TargetError     `json:"failed"`
}

// Projector owns the in-memory custom pages and projects ledger state
// into them on demand.
type Projector struct {
	mu      sync.RWMutex
	byID    map[string]*domain.CustomPage
	ledgers *store.Store
	log     *logger.Logger
}

func New(ledgers *store.Store, log *logger.Logger) *Projector {
	return &Projector{
		byID:    make(map[string]*domain.CustomPage),
		ledgers: ledgers,
		log:     log.WithComponent("pages"),
	}
}

// Load seeds the projector with persisted pages, replacing any state.
func (p *Projector) Load(pages []domain.CustomPage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, page := range pages {
		if _, exists := p.byID[page.ID]; exists {
			// In-memory state is at least as fresh as persistence.
			continue
		}
		clone := page.Clone()
		p.byID[page.ID] = &clone
	}
}

// CreatePage adds an empty page. Names are unique within a tenant.
func (p *Projector) CreatePage(tenantID, name string) (domain.CustomPage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.CustomPage{}, apperrors.Validation(map[string]string{"name": "page name must not be blank"})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.byID {
		if existing.TenantID == tenantID && existing.Name == name {
			return domain.CustomPage{}, apperrors.Conflict("a page with this name already exists")
		}
	}

	page := &domain.CustomPage{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      name,
		Items:     []domain.Item{},
		Notes:     map[string]string{},
		CreatedAt: time.Now().UTC(),
	}
	p.byID[page.ID] = page
	return page.Clone(), nil
}

// Page returns a deep copy of the page, scoped to the tenant.
func (p *Projector) Page(tenantID, pageID string) (domain.CustomPage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		return domain.CustomPage{}, err
	}
	return page.Clone(), nil
}

// ListPages returns copies of every page owned by the tenant.
func (p *Projector) ListPages(tenantID string) []domain.CustomPage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.CustomPage, 0)
	for _, page := range p.byID {
		if page.TenantID == tenantID {
			out = append(out, page.Clone())
		}
	}
	return out
}

// DeletePage removes the page. Ledger items referenced by it are untouched.
func (p *Projector) DeletePage(tenantID, pageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(tenantID, pageID); err != nil {
		return err
	}
	delete(p.byID, pageID)
	return nil
}

// AddItemsToPage copies items onto the page, skipping names the page
// already carries and blank names. Returns the names added and skipped.
func (p *Projector) AddItemsToPage(tenantID, pageID string, items []domain.Item) (added, skipped []string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		return nil, nil, err
	}

	for _, it := range items {
		if it.Name == "" || page.FindItem(it.Name) >= 0 {
			skipped = append(skipped, it.Name)
			continue
		}
		page.Items = append(page.Items, it.Clone())
		added = append(added, it.Name)
	}
	if len(added) > 0 {
		p.touch(page)
	}
	return added, skipped, nil
}

// RemoveItemFromPage drops the named item and its note from the page.
func (p *Projector) RemoveItemFromPage(tenantID, pageID, itemName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		return err
	}
	idx := page.FindItem(itemName)
	if idx < 0 {
		return apperrors.NotFound("page item")
	}
	page.Items = append(page.Items[:idx], page.Items[idx+1:]...)
	delete(page.Notes, itemName)
	p.touch(page)
	return nil
}

// SetNote attaches a page-local note to the named item. Notes survive
// inventory syncs.
func (p *Projector) SetNote(tenantID, pageID, itemName, note string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		return err
	}
	if page.FindItem(itemName) < 0 {
		return apperrors.NotFound("page item")
	}
	if page.Notes == nil {
		page.Notes = map[string]string{}
	}
	if note == "" {
		delete(page.Notes, itemName)
	} else {
		page.Notes[itemName] = note
	}
	p.touch(page)
	return nil
}

// SyncPageWithInventory pulls opening, unit price, dispense and incoming
// data from the source month into matching page items. The pull is one
// way: the ledger is never written. Unmatched page items keep their
// stale copies; notes are preserved throughout.
func (p *Projector) SyncPageWithInventory(tenantID, pageID string, source domain.ScopeKey) (SyncResult, error) {
	snapshot, ok := p.ledgers.Snapshot(source)
	if !ok {
		return SyncResult{}, apperrors.NotFound("monthly ledger")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for i := range page.Items {
		name := page.Items[i].Name
		idx := snapshot.FindItem(name)
		if idx < 0 {
			result.Unmatched = append(result.Unmatched, name)
			continue
		}
		src := snapshot.Items[idx].Clone()
		page.Items[i].Opening = src.Opening
		page.Items[i].UnitPrice = src.UnitPrice
		page.Items[i].DailyDispense = src.DailyDispense
		page.Items[i].DailyIncoming = src.DailyIncoming
		page.Items[i].IncomingSource = src.IncomingSource
		result.Updated = append(result.Updated, name)
	}

	now := time.Now().UTC()
	page.LastSynced = &now
	page.LastUpdated = &now
	return result, nil
}

// UpdateItemInBoth applies one field patch to the page item and to the
// same-named item in each target month. Targets succeed or fail
// independently; the result carries the split.
func (p *Projector) UpdateItemInBoth(tenantID, pageID, itemName string, patch store.ItemPatch, targets []domain.ScopeKey) (FanoutResult, error) {
	var result FanoutResult

	p.mu.Lock()
	page, err := p.lookup(tenantID, pageID)
	if err != nil {
		p.mu.Unlock()
		return result, err
	}
	idx := page.FindItem(itemName)
	if idx < 0 {
		p.mu.Unlock()
		return result, apperrors.NotFound("page item")
	}
	applyPatch(&page.Items[idx], patch)
	if patch.Name != nil && *patch.Name != itemName {
		if note, ok := page.Notes[itemName]; ok {
			page.Notes[*patch.Name] = note
			delete(page.Notes, itemName)
		}
	}
	p.touch(page)
	result.PageUpdated = true
	p.mu.Unlock()

	for _, key := range targets {
		snapshot, ok := p.ledgers.Snapshot(key)
		if !ok {
			result.Failed = append(result.Failed, TargetError{Key: key, Err: apperrors.NotFound("monthly ledger")})
			continue
		}
		ledgerIdx := snapshot.FindItem(itemName)
		if ledgerIdx < 0 {
			result.Failed = append(result.Failed, TargetError{Key: key, Err: apperrors.NotFound("ledger item")})
			continue
		}
		if err := p.ledgers.UpdateItem(key, ledgerIdx, patch); err != nil {
			result.Failed = append(result.Failed, TargetError{Key: key, Err: err})
			continue
		}
		result.Applied = append(result.Applied, key)
	}

	if len(result.Failed) > 0 {
		p.log.Warn().
			Str("page_id", pageID).
			Str("item", itemName).
			Int("applied", len(result.Applied)).
			Int("failed", len(result.Failed)).
			Msg("fan-out item update partially failed")
	}
	return result, nil
}

// lookup requires p.mu held.
func (p *Projector) lookup(tenantID, pageID string) (*domain.CustomPage, error) {
	page, ok := p.byID[pageID]
	if !ok || page.TenantID != tenantID {
		return nil, apperrors.NotFound("custom page")
	}
	return page, nil
}

func (p *Projector) touch(page *domain.CustomPage) {
	now := time.Now().UTC()
	page.LastUpdated = &now
}

func applyPatch(it *domain.Item, patch store.ItemPatch) {
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
}
