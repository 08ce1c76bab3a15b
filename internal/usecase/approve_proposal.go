package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/domain"
)

// ApproveProposalParams contains parameters for approving a proposal.
type ApproveProposalParams struct {
	ProposalID uuid.UUID
	Approver   common.Address
	Signature  []byte
}

// ApproveProposal verifies and records one approver's signature, then
// attempts execution with the enlarged approval set.
type ApproveProposal struct {
	proposals ProposalRepository
	approvals ApprovalRepository
	verifier  *approval.Verifier
	attempt   *AttemptExecution
	log       *slog.Logger
}

// NewApproveProposal creates a new ApproveProposal use case.
func NewApproveProposal(
	proposals ProposalRepository,
	approvals ApprovalRepository,
	verifier *approval.Verifier,
	attempt *AttemptExecution,
	log *slog.Logger,
) *ApproveProposal {
	return &ApproveProposal{
		proposals: proposals,
		approvals: approvals,
		verifier:  verifier,
		attempt:   attempt,
		log:       log.With("component", "ApproveProposal"),
	}
}

// Run verifies the signature against the proposal hash and persists the
// approval. An unverifiable signature is a user error, not a retryable
// failure.
func (uc *ApproveProposal) Run(ctx context.Context, params ApproveProposalParams) error {
	proposal, err := uc.proposals.Get(ctx, params.ProposalID)
	if err != nil {
		return err
	}
	if proposal.Status.Terminal() {
		return domain.ErrAlreadyExecuted
	}

	verified, err := uc.verifier.Verify(ctx, proposal.Hash, params.Approver, params.Signature)
	if err != nil {
		return fmt.Errorf("verify approval: %w", err)
	}
	if verified == nil {
		return fmt.Errorf("approval from %s: signature does not verify", params.Approver)
	}

	if err := uc.approvals.Put(ctx, domain.Approval{
		ProposalID: proposal.ID,
		Approver:   params.Approver,
		Signature:  params.Signature,
		CreatedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("save approval: %w", err)
	}

	uc.log.Info("approval recorded",
		"proposal", proposal.ID, "approver", params.Approver, "type", verified.Type)

	return uc.attempt.Run(ctx, proposal)
}
