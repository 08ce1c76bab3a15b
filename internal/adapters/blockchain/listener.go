package blockchain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/usecase"
)

// Listener polls for confirmed account-contract logs and dispatches them
// through the reconciler's handler table. Only blocks at or below
// head - ConfirmationDepth + 1 are read, so every dispatched event is
// final to the configured depth and events arrive in chain order.
type Listener struct {
	client   *Client
	handlers map[string]usecase.Handler
	cfg      *config.RuntimeConfig
	log      *slog.Logger

	// nextBlock is the first block not yet processed.
	nextBlock uint64
}

// NewListener creates a confirmed-log listener over the handler table.
func NewListener(client *Client, handlers map[string]usecase.Handler, cfg *config.RuntimeConfig, log *slog.Logger) *Listener {
	return &Listener{
		client:   client,
		handlers: handlers,
		cfg:      cfg,
		log:      log.With("component", "Listener"),
	}
}

// Run polls until the context is cancelled. Processing resumes from the
// current confirmed head; missed historical events are repaired by the
// recovery pass, not replayed here.
func (l *Listener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.EventPollInterval)
	defer ticker.Stop()

	for {
		if err := l.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Error("event poll failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Listener) poll(ctx context.Context) error {
	head, err := l.client.Eth().BlockNumber(ctx)
	if err != nil {
		return err
	}

	depth := l.cfg.ConfirmationDepth
	if depth == 0 {
		depth = 1
	}
	if head+1 < depth {
		return nil
	}
	confirmedHead := head - depth + 1

	if l.nextBlock == 0 {
		l.nextBlock = confirmedHead + 1
		return nil
	}
	if confirmedHead < l.nextBlock {
		return nil
	}

	logs, err := l.client.Eth().FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(l.nextBlock),
		ToBlock:   new(big.Int).SetUint64(confirmedHead),
		Topics: [][]common.Hash{{
			accountABI.Events["PolicyAdded"].ID,
			accountABI.Events["PolicyRemoved"].ID,
			accountABI.Events["Scheduled"].ID,
			accountABI.Events["ScheduleCancelled"].ID,
		}},
	})
	if err != nil {
		return err
	}

	times := make(map[uint64]time.Time)
	for _, entry := range logs {
		if entry.Removed {
			continue
		}

		blockTime, ok := times[entry.BlockNumber]
		if !ok {
			header, err := l.client.Eth().HeaderByNumber(ctx, new(big.Int).SetUint64(entry.BlockNumber))
			if err != nil {
				return err
			}
			blockTime = time.Unix(int64(header.Time), 0).UTC()
			times[entry.BlockNumber] = blockTime
		}

		name, event, err := decodeEvent(entry, blockTime)
		if err != nil {
			l.log.Error("undecodable log", "block", entry.BlockNumber, "tx", entry.TxHash, "err", err)
			continue
		}
		if name == "" {
			continue
		}

		handler, ok := l.handlers[name]
		if !ok {
			continue
		}
		if err := handler(ctx, event); err != nil {
			// Stop at the failed event; the block range is retried next poll.
			return err
		}
	}

	l.nextBlock = confirmedHead + 1
	return nil
}
