package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
)

// recoveryLockKey serializes the recovery pass across processes: at most
// one instance performs it at a time.
const recoveryLockKey = "job-recovery"

// RecoverJobs repairs jobs lost to worker crashes: proposals without a
// terminal receipt whose jobs are no longer known to the queue are
// re-enqueued, without duplicating jobs still in flight.
type RecoverJobs struct {
	config    *config.RuntimeConfig
	proposals ProposalRepository
	txs       TransactionRepository
	scheduler JobScheduler
	locker    Locker
	log       *slog.Logger
}

// NewRecoverJobs creates a new RecoverJobs use case.
func NewRecoverJobs(
	cfg *config.RuntimeConfig,
	proposals ProposalRepository,
	txs TransactionRepository,
	scheduler JobScheduler,
	locker Locker,
	log *slog.Logger,
) *RecoverJobs {
	return &RecoverJobs{
		config:    cfg,
		proposals: proposals,
		txs:       txs,
		scheduler: scheduler,
		locker:    locker,
		log:       log.With("component", "RecoverJobs"),
	}
}

// Run performs one recovery pass. It returns the number of re-enqueued
// jobs; zero with no error when another instance holds the lock.
func (uc *RecoverJobs) Run(ctx context.Context) (int, error) {
	release, acquired, err := uc.locker.TryAcquire(ctx, recoveryLockKey, uc.config.RecoveryLockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		uc.log.Debug("recovery already running elsewhere")
		return 0, nil
	}
	defer release()

	orphans, err := uc.proposals.ListUnconfirmed(ctx)
	if err != nil {
		return 0, err
	}

	active, err := uc.scheduler.ActiveJobIDs(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, proposal := range orphans {
		job, ok, err := uc.missingJob(ctx, proposal, active)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		if err := uc.scheduler.Enqueue(ctx, job); err != nil {
			return recovered, err
		}
		uc.log.Info("re-enqueued orphaned job", "job", job.ID, "proposal", proposal.ID)
		recovered++
	}

	return recovered, nil
}

// missingJob decides which stage of the proposal's pipeline was lost, if
// any. A proposal with a submitted transaction needs its confirmation
// job; an executing proposal without one needs execution; anything else
// re-starts at simulation.
func (uc *RecoverJobs) missingJob(ctx context.Context, proposal *domain.Proposal, active map[string]struct{}) (Job, bool, error) {
	for _, queue := range []Queue{QueueSimulations, QueueExecutions, QueueConfirmations} {
		if _, ok := active[JobID(queue, proposal.ID)]; ok {
			return Job{}, false, nil // still in flight
		}
	}

	_, err := uc.txs.GetByProposal(ctx, proposal.ID)
	switch {
	case err == nil:
		return ConfirmationJob(proposal), true, nil
	case errors.Is(err, domain.ErrNotFound):
		if proposal.Status == domain.ProposalStatusExecuting {
			return ExecutionJob(proposal), true, nil
		}
		return SimulationJob(proposal), true, nil
	default:
		return Job{}, false, err
	}
}
