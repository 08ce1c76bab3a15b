package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
)

// CreateProposalParams contains parameters for creating a proposal.
type CreateProposalParams struct {
	Account  common.Address
	Proposer common.Address

	// Operations for a transaction proposal; Message for a message
	// proposal. Exactly one must be set.
	Operations []domain.Operation
	Message    []byte

	// Nonce, when nil, is allocated under the account's current maximum.
	Nonce *uint64

	GasLimit     uint64
	FeeToken     common.Address
	MaxFeeAmount *big.Int

	// PolicyKey pins execution to a specific policy.
	PolicyKey *domain.PolicyKey

	// Signature, when supplied, approves the proposal at creation time on
	// behalf of the proposer and immediately attempts execution.
	Signature []byte
}

// CreateProposal is the use case for creating a proposal.
type CreateProposal struct {
	config    *config.RuntimeConfig
	proposals ProposalRepository
	approve   *ApproveProposal
	scheduler JobScheduler
	log       *slog.Logger
}

// NewCreateProposal creates a new CreateProposal use case.
func NewCreateProposal(
	cfg *config.RuntimeConfig,
	proposals ProposalRepository,
	approve *ApproveProposal,
	scheduler JobScheduler,
	log *slog.Logger,
) *CreateProposal {
	return &CreateProposal{
		config:    cfg,
		proposals: proposals,
		approve:   approve,
		scheduler: scheduler,
		log:       log.With("component", "CreateProposal"),
	}
}

// Run creates the proposal, requests its simulation, and - when a
// creation-time signature was supplied - approves and attempts execution.
func (uc *CreateProposal) Run(ctx context.Context, params CreateProposalParams) (*domain.Proposal, error) {
	proposal, err := uc.build(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := uc.proposals.Save(ctx, proposal); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}

	if err := uc.scheduler.Enqueue(ctx, SimulationJob(proposal)); err != nil {
		return nil, fmt.Errorf("enqueue simulation: %w", err)
	}

	uc.log.Info("proposal created",
		"proposal", proposal.ID, "account", proposal.Account, "kind", proposal.Kind, "nonce", proposal.Nonce)

	if len(params.Signature) > 0 {
		if err := uc.approve.Run(ctx, ApproveProposalParams{
			ProposalID: proposal.ID,
			Approver:   params.Proposer,
			Signature:  params.Signature,
		}); err != nil {
			return nil, err
		}
	}

	return proposal, nil
}

func (uc *CreateProposal) build(ctx context.Context, params CreateProposalParams) (*domain.Proposal, error) {
	now := time.Now()
	proposal := &domain.Proposal{
		ID:        uuid.New(),
		Account:   params.Account,
		ChainID:   uc.config.ChainID,
		Status:    domain.ProposalStatusPending,
		Proposer:  params.Proposer,
		PolicyKey: params.PolicyKey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch {
	case len(params.Operations) > 0:
		proposal.Kind = domain.TransactionProposal
		proposal.Operations = params.Operations
		proposal.GasLimit = params.GasLimit
		proposal.FeeToken = params.FeeToken
		proposal.MaxFeeAmount = params.MaxFeeAmount

		if params.Nonce != nil {
			proposal.Nonce = *params.Nonce
		} else {
			nonce, err := uc.proposals.NextNonce(ctx, params.Account)
			if err != nil {
				return nil, fmt.Errorf("allocate nonce: %w", err)
			}
			proposal.Nonce = nonce
		}

		if _, err := rand.Read(proposal.Salt[:]); err != nil {
			return nil, err
		}

	case len(params.Message) > 0:
		proposal.Kind = domain.MessageProposal
		proposal.Message = params.Message

	default:
		return nil, domain.ErrNoOperations
	}

	hash, err := approval.ProposalHash(proposal)
	if err != nil {
		return nil, fmt.Errorf("hash proposal: %w", err)
	}
	proposal.Hash = hash

	return proposal, nil
}
