package domain

import "fmt"

// Violation reasons returned by policy evaluation. These are data, not
// errors: callers decide how to surface them.
const (
	ReasonProposalNotFound      = "Proposal not found"
	ReasonPolicyNotActive       = "Policy not active"
	ReasonMessagesNotAllowed    = "Messages not allowed"
	ReasonOperationNotAllowed   = "Operation not allowed"
	ReasonTransferLimitExceeded = "Transfer limit exceeded"
	ReasonInsufficientApprovals = "Insufficient approvals"
)

// Violation is one reason a policy does not authorize a proposal. OpIndex
// is the offending operation's index, or -1 for reasons not scoped to a
// single operation.
type Violation struct {
	Reason  string `json:"reason"`
	OpIndex int    `json:"operation"`
}

func (v Violation) String() string {
	if v.OpIndex < 0 {
		return v.Reason
	}
	return fmt.Sprintf("%s (operation %d)", v.Reason, v.OpIndex)
}
