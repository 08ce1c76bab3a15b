package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/domain"
)

// ProposePolicyParams describes a policy draft to record.
type ProposePolicyParams struct {
	Account common.Address
	Name    string

	// Key pins a manually assigned key (0-31); when nil the next
	// auto-assigned key is allocated.
	Key *domain.PolicyKey

	State *domain.PolicyState

	// ProposalID links the draft to the proposal whose on-chain execution
	// activates it.
	ProposalID *uuid.UUID
}

// ProposePolicy records a draft policy state. The draft stays inactive
// until the reconciler observes its PolicyAdded event on-chain.
type ProposePolicy struct {
	policies PolicyRepository
	log      *slog.Logger
}

// NewProposePolicy creates a new ProposePolicy use case.
func NewProposePolicy(policies PolicyRepository, log *slog.Logger) *ProposePolicy {
	return &ProposePolicy{
		policies: policies,
		log:      log.With("component", "ProposePolicy"),
	}
}

// Run validates and persists the draft, returning the key it was recorded
// under.
func (uc *ProposePolicy) Run(ctx context.Context, params ProposePolicyParams) (domain.PolicyKey, error) {
	if err := params.State.Validate(); err != nil {
		return 0, err
	}

	var key domain.PolicyKey
	if params.Key != nil {
		if *params.Key > domain.MaxManualPolicyKey {
			return 0, fmt.Errorf("%w: key %d outside the manual range [0, %d]",
				domain.ErrInvalidPolicy, *params.Key, domain.MaxManualPolicyKey)
		}
		key = *params.Key
	} else {
		next, err := uc.policies.NextKey(ctx, params.Account)
		if err != nil {
			return 0, err
		}
		key = next
	}

	draft := *params.State
	draft.ProposalID = params.ProposalID
	if err := uc.policies.SaveDraft(ctx, params.Account, key, params.Name, &draft); err != nil {
		return 0, err
	}

	uc.log.Info("policy drafted", "account", params.Account, "key", key, "name", params.Name)
	return key, nil
}
