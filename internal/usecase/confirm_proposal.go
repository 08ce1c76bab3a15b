package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/policy"
)

// ConfirmProposal is the Confirmations queue worker body: it waits for the
// submitted transaction's receipt and folds the outcome back into proposal
// state.
type ConfirmProposal struct {
	proposals ProposalRepository
	txs       TransactionRepository
	chain     ChainClient
	attempt   *AttemptExecution
	bus       EventBus
	log       *slog.Logger
	now       func() time.Time
}

// NewConfirmProposal creates a new ConfirmProposal use case.
func NewConfirmProposal(
	proposals ProposalRepository,
	txs TransactionRepository,
	chain ChainClient,
	attempt *AttemptExecution,
	bus EventBus,
	log *slog.Logger,
) *ConfirmProposal {
	return &ConfirmProposal{
		proposals: proposals,
		txs:       txs,
		chain:     chain,
		attempt:   attempt,
		bus:       bus,
		log:       log.With("component", "ConfirmProposal"),
		now:       time.Now,
	}
}

// Run confirms the proposal's system transaction. Success records the
// responses, gas and timestamp; a revert records the decoded reason. Both
// publish a proposal-updated event and re-attempt the account's other
// pending proposals, which may have been blocked on this one.
func (uc *ConfirmProposal) Run(ctx context.Context, payload JobPayload) error {
	proposal, err := uc.proposals.Get(ctx, payload.ProposalID)
	if err != nil {
		return err
	}
	if proposal.Status.Terminal() {
		return nil
	}

	systx, err := uc.txs.GetByProposal(ctx, proposal.ID)
	if err != nil {
		// A confirmation job without a submitted transaction means our
		// state and the chain have diverged; guessing is not safe.
		return domain.Fatal(fmt.Errorf("proposal %s has no system tx: %w", proposal.ID, err))
	}

	receipt, err := uc.chain.WaitReceipt(ctx, systx.Hash)
	if err != nil {
		return fmt.Errorf("wait receipt %s: %w", systx.Hash, err)
	}

	if err := uc.txs.SaveReceipt(ctx, receipt); err != nil {
		return err
	}

	if receipt.Success {
		if err := uc.recordTransfers(ctx, proposal, systx, receipt); err != nil {
			return err
		}
		proposal.Status = domain.ProposalStatusSuccessful
		uc.log.Info("proposal executed",
			"proposal", proposal.ID, "tx", systx.Hash, "gasUsed", receipt.GasUsed, "block", receipt.Block)
	} else {
		proposal.Status = domain.ProposalStatusFailed
		uc.log.Warn("proposal reverted",
			"proposal", proposal.ID, "tx", systx.Hash, "reason", receipt.RevertReason)
	}

	proposal.UpdatedAt = uc.now()
	if err := uc.proposals.Save(ctx, proposal); err != nil {
		return err
	}

	if err := uc.bus.ProposalUpdated(ctx, domain.ProposalUpdated{
		ProposalID: proposal.ID,
		Account:    proposal.Account,
		Status:     proposal.Status,
	}); err != nil {
		return err
	}

	return uc.retryBlocked(ctx, proposal)
}

// recordTransfers persists the outgoing transfers of a confirmed
// transaction for future transfer-limit accounting.
func (uc *ConfirmProposal) recordTransfers(ctx context.Context, proposal *domain.Proposal, systx *domain.SystemTx, receipt *domain.Receipt) error {
	proposed := policy.Transfers(proposal)
	if len(proposed) == 0 {
		return nil
	}

	transfers := make([]domain.Transfer, len(proposed))
	for i, t := range proposed {
		transfers[i] = domain.Transfer{
			ProposalID: proposal.ID,
			Account:    proposal.Account,
			PolicyKey:  systx.PolicyKey,
			Token:      t.Token,
			To:         t.To,
			Amount:     t.Amount,
			Timestamp:  receipt.Timestamp,
		}
	}
	return uc.txs.RecordTransfers(ctx, transfers)
}

// retryBlocked re-attempts the account's other pending proposals.
func (uc *ConfirmProposal) retryBlocked(ctx context.Context, confirmed *domain.Proposal) error {
	pending, err := uc.proposals.ListPending(ctx, confirmed.Account)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.ID == confirmed.ID {
			continue
		}
		if err := uc.attempt.Run(ctx, p); err != nil {
			uc.log.Warn("retry of blocked proposal failed", "proposal", p.ID, "err", err)
		}
	}
	return nil
}
