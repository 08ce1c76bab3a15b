//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"github.com/AlloPay/accountd/internal/adapters"
	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/logging"
	"github.com/AlloPay/accountd/internal/policy"
	"github.com/AlloPay/accountd/internal/usecase"
)

// InitApp creates a fully wired App instance.
func InitApp(ctx context.Context, cfg *config.RuntimeConfig) (*App, error) {
	wire.Build(
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Domain services
		policy.NewEngine,
		approval.NewVerifier,

		// Use cases
		usecase.NewAttemptExecution,
		usecase.NewApproveProposal,
		usecase.NewCreateProposal,
		usecase.NewProposePolicy,
		usecase.NewSimulateProposal,
		usecase.NewExecuteProposal,
		usecase.NewConfirmProposal,
		usecase.NewBestPolicy,
		usecase.NewDeleteProposal,
		usecase.NewReconciler,
		usecase.NewRecoverJobs,

		// App
		NewApp,
	)
	return nil, nil
}
