package domain

import "time"

// CategoryLabels carries the tenant-facing names of the two dispense
// sub-categories.
type CategoryLabels struct {
	Patient  string `json:"patient"`
	Scissors string `json:"scissors"`
}

// PharmacySettings controls per-pharmacy behavior of the ledger. Switching
// EnableDispenseCategories does not migrate existing day values; both
// shapes stay readable.
type PharmacySettings struct {
	EnableDispenseCategories    bool           `json:"enable_dispense_categories"`
	EnableCostCalculationToggle bool           `json:"enable_cost_calculation_toggle"`
	DispenseCategories          CategoryLabels `json:"dispense_categories"`
}

// DefaultPharmacySettings returns the settings a new pharmacy starts with.
func DefaultPharmacySettings() PharmacySettings {
	return PharmacySettings{
		DispenseCategories: CategoryLabels{
			Patient:  "Patient",
			Scissors: "Scissors",
		},
	}
}

// Pharmacy is one branch owned by a tenant.
type Pharmacy struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	Name      string           `json:"name"`
	Address   string           `json:"address,omitempty"`
	Settings  PharmacySettings `json:"settings"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// StaffMember is a pharmacist account under a tenant. Senior and regular
// staff are bound to one pharmacy; lead accounts are tenant-wide.
type StaffMember struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	PharmacyID string    `json:"pharmacy_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
