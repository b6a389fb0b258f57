// Package events publishes ledger changes onto the real-time channel.
// Subscribed sessions replace their local month with each snapshot.
package events

import (
	"context"
	"encoding/json"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/messaging"
)

// LedgerEventPublisher publishes ledger-related events.
type LedgerEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
	// sessionID stamps every ledger.updated so subscribers can drop
	// their own echoes.
	sessionID string
}

// NewLedgerEventPublisher creates a publisher bound to the ledger exchange.
func NewLedgerEventPublisher(rmq *messaging.RabbitMQ, sessionID string, log *logger.Logger) (*LedgerEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLedgerEvents, "ledger-service", log)
	if err != nil {
		return nil, err
	}

	return &LedgerEventPublisher{
		publisher: publisher,
		logger:    log,
		sessionID: sessionID,
	}, nil
}

// PublishLedgerUpdated broadcasts the acknowledged month snapshot.
func (p *LedgerEventPublisher) PublishLedgerUpdated(ctx context.Context, ledger domain.MonthlyLedger) {
	if p == nil {
		return
	}
	items, err := json.Marshal(ledger.Items)
	if err != nil {
		p.logger.Error().Err(err).Str("month", string(ledger.Month)).Msg("failed to encode ledger snapshot")
		return
	}

	data := messaging.LedgerUpdatedEvent{
		TenantID:   ledger.TenantID,
		PharmacyID: ledger.PharmacyID,
		Month:      string(ledger.Month),
		Revision:   ledger.Revision,
		Items:      items,
		SessionID:  p.sessionID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventLedgerUpdated, data); err != nil {
		p.logger.Error().Err(err).Str("month", string(ledger.Month)).Msg("failed to publish ledger updated event")
	}
}

// PublishMonthCreated announces a lazily created month document.
func (p *LedgerEventPublisher) PublishMonthCreated(ctx context.Context, key domain.ScopeKey) {
	if p == nil {
		return
	}
	data := messaging.LedgerMonthCreatedEvent{
		TenantID:   key.TenantID,
		PharmacyID: key.PharmacyID,
		Month:      string(key.Month),
	}
	if err := p.publisher.Publish(ctx, messaging.EventLedgerMonthCreated, data); err != nil {
		p.logger.Error().Err(err).Str("month", string(key.Month)).Msg("failed to publish month created event")
	}
}

// PublishPageChanged announces custom page lifecycle changes.
func (p *LedgerEventPublisher) PublishPageChanged(ctx context.Context, eventType, tenantID, pageName string) {
	if p == nil {
		return
	}
	data := messaging.PageChangedEvent{
		TenantID: tenantID,
		PageName: pageName,
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("page", pageName).Msg("failed to publish page event")
	}
}
