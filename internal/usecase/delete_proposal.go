package usecase

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DeleteProposal removes a proposal and any policies whose only defining
// state was being created by it; policies with prior state are untouched.
type DeleteProposal struct {
	proposals ProposalRepository
	policies  PolicyRepository
	scheduler JobScheduler
	log       *slog.Logger
}

// NewDeleteProposal creates a new DeleteProposal use case.
func NewDeleteProposal(
	proposals ProposalRepository,
	policies PolicyRepository,
	scheduler JobScheduler,
	log *slog.Logger,
) *DeleteProposal {
	return &DeleteProposal{
		proposals: proposals,
		policies:  policies,
		scheduler: scheduler,
		log:       log.With("component", "DeleteProposal"),
	}
}

// Run deletes the proposal, its draft-only policies, and any jobs still
// queued for it.
func (uc *DeleteProposal) Run(ctx context.Context, proposalID uuid.UUID) error {
	if err := uc.policies.DeleteCreatedBy(ctx, proposalID); err != nil {
		return err
	}

	for _, queue := range []Queue{QueueSimulations, QueueExecutions, QueueConfirmations} {
		if err := uc.scheduler.Remove(ctx, JobID(queue, proposalID)); err != nil {
			return err
		}
	}

	if err := uc.proposals.Delete(ctx, proposalID); err != nil {
		return err
	}

	uc.log.Info("proposal deleted", "proposal", proposalID)
	return nil
}
