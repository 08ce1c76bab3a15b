package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/policy"
)

// AttemptExecution decides whether a proposal is ready to execute and, if
// so, enqueues its execution job. Readiness requires a successful fresh
// simulation and a satisfied policy for the approvals verified so far.
type AttemptExecution struct {
	config    *config.RuntimeConfig
	policies  PolicyRepository
	approvals ApprovalRepository
	verifier  *approval.Verifier
	engine    *policy.Engine
	scheduler JobScheduler
	log       *slog.Logger
	now       func() time.Time
}

// NewAttemptExecution creates a new AttemptExecution use case.
func NewAttemptExecution(
	cfg *config.RuntimeConfig,
	policies PolicyRepository,
	approvals ApprovalRepository,
	verifier *approval.Verifier,
	engine *policy.Engine,
	scheduler JobScheduler,
	log *slog.Logger,
) *AttemptExecution {
	return &AttemptExecution{
		config:    cfg,
		policies:  policies,
		approvals: approvals,
		verifier:  verifier,
		engine:    engine,
		scheduler: scheduler,
		log:       log.With("component", "AttemptExecution"),
		now:       time.Now,
	}
}

// Run evaluates readiness for the proposal. It never fails a proposal:
// an unsatisfied policy simply leaves it pending, and a stale or missing
// simulation re-enqueues the simulation job instead.
func (uc *AttemptExecution) Run(ctx context.Context, proposal *domain.Proposal) error {
	if proposal.Status.Terminal() || proposal.Status == domain.ProposalStatusExecuting {
		return nil
	}

	sim := proposal.Simulation
	if sim == nil || !sim.Success || !sim.Fresh(uc.config.SimulationFreshness, uc.now()) {
		uc.log.Debug("simulation missing or stale, re-simulating", "proposal", proposal.ID)
		return uc.scheduler.Enqueue(ctx, SimulationJob(proposal))
	}

	best, err := uc.bestPolicy(ctx, proposal)
	if err != nil {
		return err
	}
	if !best.Satisfied() {
		uc.log.Debug("no policy satisfied yet",
			"proposal", proposal.ID, "best", best.Policy.Key, "violations", len(best.Violations))
		return nil
	}

	uc.log.Info("proposal ready, enqueueing execution", "proposal", proposal.ID, "policy", best.Policy.Key)
	return uc.scheduler.Enqueue(ctx, ExecutionJob(proposal))
}

// bestPolicy ranks the candidate policies for the proposal against its
// currently verified approvals. A pinned policy is the only candidate;
// there is no fallback to other policies once one is pinned.
func (uc *AttemptExecution) bestPolicy(ctx context.Context, proposal *domain.Proposal) (*policy.Ranked, error) {
	verified, _, err := uc.verifiedApprovals(ctx, proposal)
	if err != nil {
		return nil, err
	}

	candidates, err := uc.candidatePolicies(ctx, proposal)
	if err != nil {
		return nil, err
	}

	return uc.engine.Best(ctx, candidates, proposal, verified)
}

func (uc *AttemptExecution) candidatePolicies(ctx context.Context, proposal *domain.Proposal) ([]*domain.Policy, error) {
	if proposal.PolicyKey != nil {
		pinned, err := uc.policies.Get(ctx, proposal.Account, *proposal.PolicyKey)
		if err != nil {
			return nil, err
		}
		return []*domain.Policy{pinned}, nil
	}
	return uc.policies.ListByAccount(ctx, proposal.Account)
}

// verifiedApprovals re-verifies the proposal's collected approvals and
// marks any that no longer validate as invalid.
func (uc *AttemptExecution) verifiedApprovals(ctx context.Context, proposal *domain.Proposal) (verified []domain.VerifiedApproval, dropped []common.Address, err error) {
	collected, err := uc.approvals.ListByProposal(ctx, proposal.ID)
	if err != nil {
		return nil, nil, err
	}

	valid := collected[:0:0]
	for _, a := range collected {
		if !a.Invalid {
			valid = append(valid, a)
		}
	}

	verified, dropped, err = uc.verifier.VerifyAll(ctx, proposal.Hash, valid)
	if err != nil {
		return nil, nil, err
	}
	for _, approver := range dropped {
		if err := uc.approvals.MarkInvalid(ctx, proposal.ID, approver); err != nil {
			return nil, nil, err
		}
	}

	return verified, dropped, nil
}
