// Package adapters assembles the concrete port implementations into Wire
// provider sets.
package adapters

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AlloPay/accountd/internal/adapters/blockchain"
	"github.com/AlloPay/accountd/internal/adapters/bus"
	"github.com/AlloPay/accountd/internal/adapters/pricing"
	"github.com/AlloPay/accountd/internal/adapters/queue"
	"github.com/AlloPay/accountd/internal/adapters/repository"
	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/policy"
	"github.com/AlloPay/accountd/internal/usecase"
)

// ProvidePool connects the Postgres pool and applies the schema.
func ProvidePool(ctx context.Context, cfg *config.RuntimeConfig) (*pgxpool.Pool, error) {
	return repository.Connect(ctx, cfg.DatabaseURL)
}

// ProvideRedis creates the shared Redis client.
func ProvideRedis(cfg *config.RuntimeConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

// ProvidePriceQuoter layers the Redis quote cache over the YAML token
// registry.
func ProvidePriceQuoter(client *redis.Client, cfg *config.RuntimeConfig, log *slog.Logger) (usecase.PriceQuoter, error) {
	registry, err := pricing.LoadRegistry(cfg.TokensFile)
	if err != nil {
		return nil, err
	}
	return pricing.NewCachedQuoter(client, registry, cfg.PriceCacheTTL, log), nil
}

// ProvideConsumer builds the queue consumer over the worker use cases.
func ProvideConsumer(
	client *redis.Client,
	scheduler *queue.Scheduler,
	simulate *usecase.SimulateProposal,
	execute *usecase.ExecuteProposal,
	confirm *usecase.ConfirmProposal,
	cfg *config.RuntimeConfig,
	log *slog.Logger,
) *queue.Consumer {
	handlers := map[usecase.Queue]queue.HandlerFunc{
		usecase.QueueSimulations:   simulate.Run,
		usecase.QueueExecutions:    execute.Run,
		usecase.QueueConfirmations: confirm.Run,
	}
	return queue.NewConsumer(client, scheduler, handlers, cfg.ExecutionRetryLimit, log)
}

// ProvideListener builds the confirmed-log listener over the reconciler's
// dispatch table.
func ProvideListener(client *blockchain.Client, reconciler *usecase.Reconciler, cfg *config.RuntimeConfig, log *slog.Logger) *blockchain.Listener {
	return blockchain.NewListener(client, reconciler.Handlers(), cfg, log)
}

// RepositorySet provides the Postgres-backed stores.
var RepositorySet = wire.NewSet(
	repository.NewProposalStore,
	wire.Bind(new(usecase.ProposalRepository), new(*repository.ProposalStore)),

	repository.NewPolicyStore,
	wire.Bind(new(usecase.PolicyRepository), new(*repository.PolicyStore)),

	repository.NewApprovalStore,
	wire.Bind(new(usecase.ApprovalRepository), new(*repository.ApprovalStore)),

	repository.NewTransactionStore,
	wire.Bind(new(usecase.TransactionRepository), new(*repository.TransactionStore)),
	wire.Bind(new(policy.SpendingReader), new(*repository.TransactionStore)),

	repository.NewScheduledStore,
	wire.Bind(new(usecase.ScheduledRepository), new(*repository.ScheduledStore)),
)

// QueueSet provides the Redis-backed scheduler and lock.
var QueueSet = wire.NewSet(
	queue.NewScheduler,
	wire.Bind(new(usecase.JobScheduler), new(*queue.Scheduler)),

	queue.NewLocker,
	wire.Bind(new(usecase.Locker), new(*queue.Locker)),
)

// BlockchainSet provides the chain client and paymaster.
var BlockchainSet = wire.NewSet(
	blockchain.NewClient,
	wire.Bind(new(usecase.ChainClient), new(*blockchain.Client)),
	wire.Bind(new(approval.ERC1271Caller), new(*blockchain.Client)),

	blockchain.NewPaymaster,
	wire.Bind(new(usecase.Paymaster), new(*blockchain.Paymaster)),
)

// BusSet provides the Redis event bus.
var BusSet = wire.NewSet(
	bus.NewRedisBus,
	wire.Bind(new(usecase.EventBus), new(*bus.RedisBus)),
)

// AllAdapters includes every adapter provider.
var AllAdapters = wire.NewSet(
	ProvidePool,
	ProvideRedis,
	ProvidePriceQuoter,
	ProvideConsumer,
	ProvideListener,

	RepositorySet,
	QueueSet,
	BlockchainSet,
	BusSet,
)
