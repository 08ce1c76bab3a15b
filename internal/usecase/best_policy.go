package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/policy"
)

// BestPolicyResult is the ranker's pick for a proposal, with the reasons
// the pick is (or is not yet) satisfiable.
type BestPolicyResult struct {
	PolicyKey  domain.PolicyKey   `json:"policyKey"`
	Violations []domain.Violation `json:"validationErrors"`
	Satisfied  bool               `json:"satisfied"`
}

// BestPolicy is the query use case behind the bestPolicy collaborator
// interface: which policy would execute this proposal, and what still
// stands in the way.
type BestPolicy struct {
	proposals ProposalRepository
	attempt   *AttemptExecution
}

// NewBestPolicy creates a new BestPolicy use case.
func NewBestPolicy(proposals ProposalRepository, attempt *AttemptExecution) *BestPolicy {
	return &BestPolicy{proposals: proposals, attempt: attempt}
}

// Run ranks the account's policies against the proposal and its currently
// verified approvals.
func (uc *BestPolicy) Run(ctx context.Context, proposalID uuid.UUID) (*BestPolicyResult, error) {
	proposal, err := uc.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	best, err := uc.attempt.bestPolicy(ctx, proposal)
	if err != nil {
		return nil, err
	}
	return resultOf(best), nil
}

func resultOf(best *policy.Ranked) *BestPolicyResult {
	return &BestPolicyResult{
		PolicyKey:  best.Policy.Key,
		Violations: best.Violations,
		Satisfied:  best.Satisfied(),
	}
}
