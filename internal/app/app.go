// Package app wires the service together and holds the top-level
// container handed to the commands.
package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AlloPay/accountd/internal/adapters/blockchain"
	"github.com/AlloPay/accountd/internal/adapters/queue"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/usecase"
)

// App is the application container holding the use cases and the
// long-running components.
type App struct {
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// API-facing use cases
	CreateProposal  *usecase.CreateProposal
	ApproveProposal *usecase.ApproveProposal
	ProposePolicy   *usecase.ProposePolicy
	BestPolicy      *usecase.BestPolicy
	DeleteProposal  *usecase.DeleteProposal

	// Background components
	Consumer    *queue.Consumer
	Listener    *blockchain.Listener
	RecoverJobs *usecase.RecoverJobs

	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewApp creates the application container.
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	createProposal *usecase.CreateProposal,
	approveProposal *usecase.ApproveProposal,
	proposePolicy *usecase.ProposePolicy,
	bestPolicy *usecase.BestPolicy,
	deleteProposal *usecase.DeleteProposal,
	consumer *queue.Consumer,
	listener *blockchain.Listener,
	recoverJobs *usecase.RecoverJobs,
	pool *pgxpool.Pool,
	redisClient *redis.Client,
) *App {
	return &App{
		Config:          cfg,
		Log:             log,
		CreateProposal:  createProposal,
		ApproveProposal: approveProposal,
		ProposePolicy:   proposePolicy,
		BestPolicy:      bestPolicy,
		DeleteProposal:  deleteProposal,
		Consumer:        consumer,
		Listener:        listener,
		RecoverJobs:     recoverJobs,
		pool:            pool,
		redis:           redisClient,
	}
}

// Close releases the backing connections.
func (a *App) Close() {
	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.Log.Warn("closing redis failed", "err", err)
	}
}
