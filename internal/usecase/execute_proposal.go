package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
)

// ExecuteProposal is the Executions queue worker body: it re-verifies
// approvals, assembles the on-chain signature blob, computes paymaster
// parameters and submits the transaction.
type ExecuteProposal struct {
	config    *config.RuntimeConfig
	proposals ProposalRepository
	policies  PolicyRepository
	scheduled ScheduledRepository
	txs       TransactionRepository
	attempt   *AttemptExecution
	chain     ChainClient
	paymaster Paymaster
	scheduler JobScheduler
	log       *slog.Logger
	now       func() time.Time
}

// NewExecuteProposal creates a new ExecuteProposal use case.
func NewExecuteProposal(
	cfg *config.RuntimeConfig,
	proposals ProposalRepository,
	policies PolicyRepository,
	scheduled ScheduledRepository,
	txs TransactionRepository,
	attempt *AttemptExecution,
	chain ChainClient,
	paymaster Paymaster,
	scheduler JobScheduler,
	log *slog.Logger,
) *ExecuteProposal {
	return &ExecuteProposal{
		config:    cfg,
		proposals: proposals,
		policies:  policies,
		scheduled: scheduled,
		txs:       txs,
		attempt:   attempt,
		chain:     chain,
		paymaster: paymaster,
		scheduler: scheduler,
		log:       log.With("component", "ExecuteProposal"),
		now:       time.Now,
	}
}

// Run executes the proposal. Approval expiry yields a retryable error so
// the job can re-attempt once approvals are re-collected or a different
// policy satisfies; fee misconfiguration is fatal.
func (uc *ExecuteProposal) Run(ctx context.Context, payload JobPayload) error {
	proposal, err := uc.proposals.Get(ctx, payload.ProposalID)
	if err != nil {
		return err
	}
	if proposal.Status.Terminal() {
		// Executed by a different path in the meantime; a safe no-op.
		uc.log.Info("proposal already terminal", "proposal", proposal.ID, "status", proposal.Status)
		return domain.ErrAlreadyExecuted
	}

	if err := uc.checkSchedule(ctx, proposal.ID); err != nil {
		return err
	}

	// Simulation can go stale between approval collection and execution.
	sim := proposal.Simulation
	if sim == nil || !sim.Success {
		return domain.Fatal(domain.ErrSimulationRequired)
	}
	if !sim.Fresh(uc.config.SimulationFreshness, uc.now()) {
		if err := uc.scheduler.Enqueue(ctx, SimulationJob(proposal)); err != nil {
			return err
		}
		return fmt.Errorf("proposal %s: %w: simulation stale", proposal.ID, domain.ErrSimulationRequired)
	}

	verified, dropped, err := uc.attempt.verifiedApprovals(ctx, proposal)
	if err != nil {
		return err
	}
	if len(dropped) > 0 {
		// Signatures expired since collection (e.g. ERC-1271 approver
		// state changed). Retry: remaining approvals may satisfy another
		// policy, or the approver may re-sign.
		return fmt.Errorf("proposal %s: %w: %d dropped", proposal.ID, domain.ErrApprovalsExpired, len(dropped))
	}

	best, err := uc.attempt.bestPolicy(ctx, proposal)
	if err != nil {
		return err
	}
	if !best.Satisfied() {
		return fmt.Errorf("proposal %s: no policy satisfied: %v", proposal.ID, best.Violations)
	}

	signature, err := uc.encodeSignature(proposal, best.Policy, verified)
	if err != nil {
		return domain.Fatal(err)
	}

	fee, err := uc.paymaster.FeeParams(ctx, proposal)
	if err != nil {
		return err
	}
	if proposal.MaxFeeAmount != nil && fee.RequiredAmount.Cmp(proposal.MaxFeeAmount) > 0 {
		// A user-configuration error, not transient.
		uc.fail(ctx, proposal)
		return domain.Fatal(fmt.Errorf("%w: required %s > max %s",
			domain.ErrFeeExceedsMax, fee.RequiredAmount, proposal.MaxFeeAmount))
	}

	proposal.Status = domain.ProposalStatusExecuting
	proposal.UpdatedAt = uc.now()
	if err := uc.proposals.Save(ctx, proposal); err != nil {
		return err
	}

	txHash, err := uc.chain.Submit(ctx, proposal, signature, fee)
	if err != nil {
		return fmt.Errorf("submit proposal %s: %w", proposal.ID, err)
	}

	if err := uc.txs.Save(ctx, &domain.SystemTx{
		ID:          uuid.New(),
		ProposalID:  proposal.ID,
		Hash:        txHash,
		ChainID:     proposal.ChainID,
		PolicyKey:   best.Policy.Key,
		GasPrice:    fee.GasPrice,
		SubmittedAt: uc.now(),
	}); err != nil {
		// The transaction is on-chain but we failed to record it: internal
		// state has diverged and it is not safe to guess.
		return domain.Fatal(fmt.Errorf("record system tx %s: %w", txHash, err))
	}

	uc.log.Info("proposal submitted", "proposal", proposal.ID, "tx", txHash, "policy", best.Policy.Key)
	return uc.scheduler.Enqueue(ctx, ConfirmationJob(proposal))
}

// checkSchedule stops execution of a cancelled scheduled transaction.
func (uc *ExecuteProposal) checkSchedule(ctx context.Context, proposalID uuid.UUID) error {
	scheduled, err := uc.scheduled.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // not a scheduled transaction
		}
		return err
	}
	if scheduled.Cancelled {
		return domain.ErrNotScheduled
	}
	return nil
}

func (uc *ExecuteProposal) encodeSignature(proposal *domain.Proposal, p *domain.Policy, verified []domain.VerifiedApproval) ([]byte, error) {
	state := p.ActiveState()
	if state == nil {
		state = p.Draft
	}
	if state == nil {
		return nil, fmt.Errorf("policy %d has no state", p.Key)
	}

	// Collected approvals may come from addresses outside this policy's
	// approver set; the contract only accepts in-set signers, so encode
	// the intersection.
	members := make(map[common.Address]struct{}, len(state.Approvers))
	for _, a := range state.Approvers {
		members[a] = struct{}{}
	}
	inSet := make([]domain.VerifiedApproval, 0, len(verified))
	for _, v := range verified {
		if _, ok := members[v.Approver]; ok {
			inSet = append(inSet, v)
		}
	}

	approvals, err := approval.BuildApprovals(inSet, state.Approvers)
	if err != nil {
		return nil, err
	}
	return approval.EncodeExecution(uint32(proposal.Nonce), p.Key, state, approvals)
}

// fail moves the proposal to Failed for non-retryable errors.
func (uc *ExecuteProposal) fail(ctx context.Context, proposal *domain.Proposal) {
	proposal.Status = domain.ProposalStatusFailed
	proposal.UpdatedAt = uc.now()
	if err := uc.proposals.Save(ctx, proposal); err != nil {
		uc.log.Error("failed to mark proposal failed", "proposal", proposal.ID, "err", err)
	}
}
