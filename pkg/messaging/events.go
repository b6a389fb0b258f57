package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Ledger events. ledger.updated carries the canonical month snapshot
	// and is fanned out to every subscribed client, including the one
	// that produced the write.
	EventLedgerUpdated      = "ledger.updated"
	EventLedgerMonthCreated = "ledger.month.created"

	// Custom page events
	EventPageCreated = "ledger.page.created"
	EventPageUpdated = "ledger.page.updated"
	EventPageDeleted = "ledger.page.deleted"

	// Pharmacy events
	EventPharmacyCreated         = "pharmacy.created"
	EventPharmacyDeleted         = "pharmacy.deleted"
	EventPharmacySettingsChanged = "pharmacy.settings.changed"

	// Staff events
	EventStaffCreated = "staff.created"
	EventStaffDeleted = "staff.deleted"
)

// Exchange names
const (
	ExchangeLedgerEvents   = "ledger.events"
	ExchangePharmacyEvents = "pharmacy.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID returns a new unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}

// LedgerUpdatedEvent is published after a month document is persisted. It
// carries the whole canonical item collection; subscribers replace their
// local copy of that month wholesale.
type LedgerUpdatedEvent struct {
	TenantID   string          `json:"tenant_id"`
	PharmacyID string          `json:"pharmacy_id"`
	Month      string          `json:"month"`
	Revision   int64           `json:"revision"`
	Items      json.RawMessage `json:"items"`
	// SessionID identifies the writing session so a client can tell its
	// own echo from a foreign write.
	SessionID string `json:"session_id,omitempty"`
}

// LedgerMonthCreatedEvent is published when a month document is lazily created
type LedgerMonthCreatedEvent struct {
	TenantID   string `json:"tenant_id"`
	PharmacyID string `json:"pharmacy_id"`
	Month      string `json:"month"`
}

// PageChangedEvent is published on custom page create/update/delete
type PageChangedEvent struct {
	TenantID string `json:"tenant_id"`
	PageName string `json:"page_name"`
}

// PharmacySettingsChangedEvent is published when pharmacy settings change
type PharmacySettingsChangedEvent struct {
	TenantID   string `json:"tenant_id"`
	PharmacyID string `json:"pharmacy_id"`
}

// StaffChangedEvent is published on staff create/delete
type StaffChangedEvent struct {
	TenantID   string `json:"tenant_id"`
	StaffID    string `json:"staff_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	PharmacyID string `json:"pharmacy_id,omitempty"`
}
