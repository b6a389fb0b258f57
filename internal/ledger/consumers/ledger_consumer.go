// Package consumers receives ledger events from other sessions and
// applies them to the local store.
package consumers

import (
	"context"
	"encoding/json"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	ledgersync "github.com/pharmledger/pharmledger-backend/internal/ledger/sync"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/messaging"
)

// LedgerEventConsumer consumes ledger events and feeds inbound
// snapshots into the sync coordinator.
type LedgerEventConsumer struct {
	consumer    *messaging.Consumer
	coordinator *ledgersync.Coordinator
	logger      *logger.Logger
}

// NewLedgerEventConsumer creates a consumer bound to the ledger exchange.
func NewLedgerEventConsumer(rmq *messaging.RabbitMQ, coordinator *ledgersync.Coordinator, log *logger.Logger) (*LedgerEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "ledger-service.ledger-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeLedgerEvents, "ledger.#"); err != nil {
		return nil, err
	}

	c := &LedgerEventConsumer{
		consumer:    consumer,
		coordinator: coordinator,
		logger:      log,
	}

	consumer.RegisterHandler(messaging.EventLedgerUpdated, c.handleLedgerUpdated)
	consumer.RegisterHandler(messaging.EventLedgerMonthCreated, c.handleMonthCreated)

	return c, nil
}

// Start starts consuming messages.
func (c *LedgerEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *LedgerEventConsumer) handleLedgerUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.LedgerUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	var items []domain.Item
	if len(data.Items) > 0 {
		if err := json.Unmarshal(data.Items, &items); err != nil {
			return err
		}
	}

	key := domain.ScopeKey{
		TenantID:   data.TenantID,
		PharmacyID: data.PharmacyID,
		Month:      domain.MonthKey(data.Month),
	}

	c.logger.Debug().
		Str("pharmacy_id", data.PharmacyID).
		Str("month", data.Month).
		Int64("revision", data.Revision).
		Msg("received ledger updated event")

	c.coordinator.ApplyRemote(key, items, data.Revision, data.SessionID)
	return nil
}

func (c *LedgerEventConsumer) handleMonthCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.LedgerMonthCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("pharmacy_id", data.PharmacyID).
		Str("month", data.Month).
		Msg("received month created event")
	return nil
}
