package policy

import (
	"context"
	"sort"
	"time"

	"github.com/AlloPay/accountd/internal/domain"
)

// Ranked is one policy's evaluation result, carrying the sort keys used to
// pick the best candidate.
type Ranked struct {
	Policy     *domain.Policy
	Violations []domain.Violation
	Active     bool
	Delay      time.Duration
	Threshold  uint32
}

// Satisfied reports whether the policy authorizes the proposal as-is.
func (r *Ranked) Satisfied() bool { return len(r.Violations) == 0 }

// Rank evaluates every policy and orders them best-first: fewest
// violations, then active policies, then lowest delay, then lowest
// threshold. The order is total and deterministic (key as final
// tie-break), so identical inputs always rank identically.
func (e *Engine) Rank(
	ctx context.Context,
	policies []*domain.Policy,
	proposal *domain.Proposal,
	approvals []domain.VerifiedApproval,
) ([]*Ranked, error) {
	ranked := make([]*Ranked, 0, len(policies))
	for _, p := range policies {
		violations, err := e.Evaluate(ctx, p, proposal, approvals)
		if err != nil {
			return nil, err
		}

		entry := &Ranked{Policy: p, Violations: violations, Active: p.ActiveState() != nil}
		if state := evaluableState(p); state != nil {
			entry.Delay = state.Delay
			entry.Threshold = state.Threshold
		}
		ranked = append(ranked, entry)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if len(a.Violations) != len(b.Violations) {
			return len(a.Violations) < len(b.Violations)
		}
		if a.Active != b.Active {
			return a.Active
		}
		if a.Delay != b.Delay {
			return a.Delay < b.Delay
		}
		if a.Threshold != b.Threshold {
			return a.Threshold < b.Threshold
		}
		return a.Policy.Key < b.Policy.Key
	})

	return ranked, nil
}

// Best returns the highest-ranked policy. An account without policies is
// bricked: nothing can ever execute, which is a fatal user error. A best
// policy with violations is still returned; the caller decides whether
// that is sufficient.
func (e *Engine) Best(
	ctx context.Context,
	policies []*domain.Policy,
	proposal *domain.Proposal,
	approvals []domain.VerifiedApproval,
) (*Ranked, error) {
	if len(policies) == 0 {
		return nil, domain.Fatal(domain.ErrNoPolicies)
	}

	ranked, err := e.Rank(ctx, policies, proposal, approvals)
	if err != nil {
		return nil, err
	}
	return ranked[0], nil
}
