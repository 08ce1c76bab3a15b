// Package bus publishes proposal lifecycle events over Redis pub/sub so
// API frontends and other collaborators can react without polling.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/AlloPay/accountd/internal/domain"
)

// ProposalChannel carries proposal status updates as JSON.
const ProposalChannel = "accountd:proposals"

// RedisBus is the Redis-backed usecase.EventBus.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisBus creates a Redis event bus.
func NewRedisBus(client *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log.With("component", "EventBus")}
}

// ProposalUpdated publishes the status change. Publish failures are
// logged, not returned: the bus is advisory and must never fail the
// pipeline that emitted the event.
func (b *RedisBus) ProposalUpdated(ctx context.Context, event domain.ProposalUpdated) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, ProposalChannel, payload).Err(); err != nil {
		b.log.Warn("publish failed", "proposal", event.ProposalID, "err", err)
	}
	return nil
}
