package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlloPay/accountd/internal/domain"
)

// SimulateProposal is the Simulations queue worker body: it dry-runs the
// proposal and records the outcome, then re-checks execution readiness.
type SimulateProposal struct {
	proposals ProposalRepository
	chain     ChainClient
	attempt   *AttemptExecution
	log       *slog.Logger
	now       func() time.Time
}

// NewSimulateProposal creates a new SimulateProposal use case.
func NewSimulateProposal(
	proposals ProposalRepository,
	chain ChainClient,
	attempt *AttemptExecution,
	log *slog.Logger,
) *SimulateProposal {
	return &SimulateProposal{
		proposals: proposals,
		chain:     chain,
		attempt:   attempt,
		log:       log.With("component", "SimulateProposal"),
		now:       time.Now,
	}
}

// Run simulates the proposal. A failed simulation is recorded, not an
// error: the proposal stays pending until a later simulation succeeds.
func (uc *SimulateProposal) Run(ctx context.Context, payload JobPayload) error {
	proposal, err := uc.proposals.Get(ctx, payload.ProposalID)
	if err != nil {
		return err
	}
	if proposal.Status.Terminal() {
		return nil
	}

	success, err := uc.chain.Simulate(ctx, proposal)
	if err != nil {
		return fmt.Errorf("simulate proposal %s: %w", proposal.ID, err)
	}

	proposal.Simulation = &domain.Simulation{Success: success, Timestamp: uc.now()}
	proposal.UpdatedAt = uc.now()
	if err := uc.proposals.Save(ctx, proposal); err != nil {
		return err
	}

	uc.log.Info("simulation recorded", "proposal", proposal.ID, "success", success)
	if !success {
		return nil
	}

	return uc.attempt.Run(ctx, proposal)
}
