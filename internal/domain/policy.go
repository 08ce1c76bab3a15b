package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PolicyKey identifies a policy within an account. Keys 0-31 are reserved
// for manually assigned policies; auto-assigned keys start at 32.
type PolicyKey uint16

const (
	MaxManualPolicyKey PolicyKey = 31
	FirstAutoPolicyKey PolicyKey = 32
)

// Policy is a named rule set that can authorize operations for an account.
// Its authoritative content lives in PolicyState rows: State is the latest
// on-chain activated state, Draft a newer state proposed but not yet
// confirmed on-chain.
type Policy struct {
	Account common.Address `json:"account"`
	Key     PolicyKey      `json:"key"`
	Name    string         `json:"name"`

	State *PolicyState `json:"state,omitempty"`
	Draft *PolicyState `json:"draft,omitempty"`
}

// PolicyState is one version of a policy's rules. A state becomes active
// once the transaction that defined it is confirmed and ActivationBlock is
// set; a later-block activation supersedes it.
type PolicyState struct {
	ID        uuid.UUID        `json:"id"`
	Approvers []common.Address `json:"approvers"`
	Threshold uint32           `json:"threshold"`
	Actions   []Action         `json:"actions"`
	Transfers TransfersConfig  `json:"transfers"`

	AllowMessages bool          `json:"allowMessages"`
	Delay         time.Duration `json:"delay"`

	// ActivationBlock is set once the defining transaction is confirmed.
	ActivationBlock *uint64 `json:"activationBlock,omitempty"`

	// ProposalID references the proposal that defines this state, if any.
	ProposalID *uuid.UUID `json:"proposalId,omitempty"`

	// Removed marks a state produced by a policy-removal proposal.
	Removed bool `json:"removed"`

	CreatedAt time.Time `json:"createdAt"`
}

// Action is an ordered allow/deny rule over contract functions.
type Action struct {
	Label     string           `json:"label"`
	Allow     bool             `json:"allow"`
	Functions []ActionFunction `json:"functions"`
}

// ActionFunction matches a call target. A nil Contract or Selector matches
// any contract or any selector respectively.
type ActionFunction struct {
	Contract *common.Address `json:"contract,omitempty"`
	Selector *Selector       `json:"selector,omitempty"`
	ABI      json.RawMessage `json:"abi,omitempty"`
}

// TransfersConfig controls value transfers not matched by any action.
type TransfersConfig struct {
	DefaultAllow bool            `json:"defaultAllow"`
	Budget       uint32          `json:"budget"`
	Limits       []TransferLimit `json:"limits"`
}

// TransferLimit caps outgoing transfers of Token to Amount per trailing
// Duration window.
type TransferLimit struct {
	Token    common.Address `json:"token"`
	Amount   *big.Int       `json:"amount"`
	Duration time.Duration  `json:"duration"`
}

// IsActive reports whether the state has been confirmed on-chain.
func (s *PolicyState) IsActive() bool {
	return s != nil && s.ActivationBlock != nil && !s.Removed
}

// ActiveState returns the policy state that currently authorizes
// operations, or nil if the policy has never been activated.
func (p *Policy) ActiveState() *PolicyState {
	if p == nil || p.State == nil || !p.State.IsActive() {
		return nil
	}
	return p.State
}

// Validate checks the structural invariants of a policy state.
func (s *PolicyState) Validate() error {
	if len(s.Approvers) == 0 {
		return fmt.Errorf("%w: policy state requires at least one approver", ErrInvalidPolicy)
	}
	if s.Threshold == 0 || s.Threshold > uint32(len(s.Approvers)) {
		return fmt.Errorf("%w: threshold %d outside [1, %d]", ErrInvalidPolicy, s.Threshold, len(s.Approvers))
	}
	for _, action := range s.Actions {
		if len(action.Functions) == 0 {
			return fmt.Errorf("%w: action %q has no functions", ErrInvalidPolicy, action.Label)
		}
	}
	return nil
}
