package domain

import "time"

// CustomPage is a tenant-defined named subset of ledger items. Items are
// copies, not references; divergence from the ledger is expected and is
// reconciled only on explicit sync.
type CustomPage struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Items    []Item `json:"items"`
	// Notes is page-local annotation keyed by item name; never synced
	// from or to the ledger.
	Notes       map[string]string `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
	LastSynced  *time.Time        `json:"last_synced,omitempty"`
}

// Clone returns a deep copy of the page.
func (p CustomPage) Clone() CustomPage {
	out := p
	out.Items = CloneItems(p.Items)
	if p.Notes != nil {
		out.Notes = make(map[string]string, len(p.Notes))
		for k, v := range p.Notes {
			out.Notes[k] = v
		}
	}
	return out
}

// FindItem returns the index of the item with the given name, or -1.
func (p CustomPage) FindItem(name string) int {
	for i, it := range p.Items {
		if it.Name == name {
			return i
		}
	}
	return -1
}
