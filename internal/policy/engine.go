// Package policy evaluates account policies against proposed transactions
// and messages, and ranks the policies of an account to pick the one best
// placed to authorize a proposal.
package policy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/domain"
)

// SpendingReader reports the total confirmed outgoing amount of a token
// under one policy within a trailing window.
type SpendingReader interface {
	TotalSpent(ctx context.Context, account common.Address, key domain.PolicyKey, token common.Address, since time.Time) (*big.Int, error)
}

// Engine evaluates a single policy against a proposal. Evaluation returns
// violations as data; an empty result means the policy authorizes the
// proposal given the approvals supplied.
type Engine struct {
	spending SpendingReader
	now      func() time.Time
}

// NewEngine creates a policy engine. The spending reader backs the
// transfer-limit checks.
func NewEngine(spending SpendingReader) *Engine {
	return &Engine{spending: spending, now: time.Now}
}

// Evaluate checks policy against proposal with the approvals collected so
// far. Absence of violations means "satisfiable with the approvals
// supplied", not that collection is complete.
func (e *Engine) Evaluate(
	ctx context.Context,
	policy *domain.Policy,
	proposal *domain.Proposal,
	approvals []domain.VerifiedApproval,
) ([]domain.Violation, error) {
	if proposal == nil {
		return []domain.Violation{{Reason: domain.ReasonProposalNotFound, OpIndex: -1}}, nil
	}

	state := evaluableState(policy)
	if state == nil {
		return []domain.Violation{{Reason: domain.ReasonPolicyNotActive, OpIndex: -1}}, nil
	}

	var violations []domain.Violation

	if proposal.Kind == domain.MessageProposal {
		if !state.AllowMessages {
			violations = append(violations, domain.Violation{Reason: domain.ReasonMessagesNotAllowed, OpIndex: -1})
		}
	} else {
		violations = append(violations, e.checkOperations(state, proposal)...)

		limitViolations, err := e.checkTransferLimits(ctx, policy, state, proposal)
		if err != nil {
			return nil, fmt.Errorf("transfer limit check: %w", err)
		}
		violations = append(violations, limitViolations...)
	}

	if !thresholdMet(state, proposal.Proposer, approvals) {
		violations = append(violations, domain.Violation{Reason: domain.ReasonInsufficientApprovals, OpIndex: -1})
	}

	return violations, nil
}

// evaluableState picks the state to evaluate rules against: the activated
// state when present, otherwise the draft (so not-yet-activated policies
// still rank; activation preference is the ranker's concern).
func evaluableState(policy *domain.Policy) *domain.PolicyState {
	if policy == nil {
		return nil
	}
	if policy.State != nil && !policy.State.Removed {
		return policy.State
	}
	if policy.Draft != nil && !policy.Draft.Removed {
		return policy.Draft
	}
	return nil
}

// checkOperations walks the policy's actions in order per operation; the
// first function entry matching (to, selector) decides allow/deny. An
// unmatched operation falls back to transfers.DefaultAllow only when it is
// a recognized transfer, otherwise it is denied.
func (e *Engine) checkOperations(state *domain.PolicyState, proposal *domain.Proposal) []domain.Violation {
	var violations []domain.Violation
	for i, op := range proposal.Operations {
		if !operationAllowed(state, op) {
			violations = append(violations, domain.Violation{Reason: domain.ReasonOperationNotAllowed, OpIndex: i})
		}
	}
	return violations
}

func operationAllowed(state *domain.PolicyState, op domain.Operation) bool {
	selector, hasSelector := domain.SelectorOf(op.Data)

	for _, action := range state.Actions {
		for _, fn := range action.Functions {
			if fn.Contract != nil && *fn.Contract != op.To {
				continue
			}
			if fn.Selector != nil && (!hasSelector || *fn.Selector != selector) {
				continue
			}
			return action.Allow
		}
	}

	// No action matched: only recognized transfers fall through to the
	// transfers default.
	if _, ok := transferOf(op); ok {
		return state.Transfers.DefaultAllow
	}
	return false
}

// checkTransferLimits sums proposed outgoing amounts per token on top of
// the confirmed spending in each limit's trailing window.
func (e *Engine) checkTransferLimits(
	ctx context.Context,
	policy *domain.Policy,
	state *domain.PolicyState,
	proposal *domain.Proposal,
) ([]domain.Violation, error) {
	if len(state.Transfers.Limits) == 0 {
		return nil, nil
	}

	var violations []domain.Violation
	for _, limit := range state.Transfers.Limits {
		spent, err := e.spending.TotalSpent(ctx, policy.Account, policy.Key, limit.Token, e.now().Add(-limit.Duration))
		if err != nil {
			return nil, err
		}

		total := new(big.Int).Set(spent)
		for i, op := range proposal.Operations {
			transfer, ok := transferOf(op)
			if !ok || transfer.Token != limit.Token {
				continue
			}
			total.Add(total, transfer.Amount)
			if total.Cmp(limit.Amount) > 0 {
				violations = append(violations, domain.Violation{Reason: domain.ReasonTransferLimitExceeded, OpIndex: i})
				break
			}
		}
	}
	return violations, nil
}

// thresholdMet checks the approval count against the policy threshold. The
// proposer's approval is implicit: proposing counts as approving, so the
// effective requirement drops by one when the proposer is an approver.
func thresholdMet(state *domain.PolicyState, proposer common.Address, approvals []domain.VerifiedApproval) bool {
	approverSet := make(map[common.Address]struct{}, len(state.Approvers))
	for _, a := range state.Approvers {
		approverSet[a] = struct{}{}
	}

	required := int(state.Threshold)
	if _, ok := approverSet[proposer]; ok {
		required--
	}

	counted := make(map[common.Address]struct{}, len(approvals))
	for _, approval := range approvals {
		if approval.Approver == proposer {
			continue // already counted implicitly
		}
		if _, ok := approverSet[approval.Approver]; !ok {
			continue
		}
		counted[approval.Approver] = struct{}{}
	}

	return len(counted) >= required
}
