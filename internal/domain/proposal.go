package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ProposalKind distinguishes transaction proposals from message proposals.
type ProposalKind string

const (
	TransactionProposal ProposalKind = "TRANSACTION"
	MessageProposal     ProposalKind = "MESSAGE"
)

// ProposalStatus represents the lifecycle status of a proposal.
type ProposalStatus string

const (
	ProposalStatusPending    ProposalStatus = "PENDING"
	ProposalStatusScheduled  ProposalStatus = "SCHEDULED"
	ProposalStatusExecuting  ProposalStatus = "EXECUTING"
	ProposalStatusSuccessful ProposalStatus = "SUCCESSFUL"
	ProposalStatusFailed     ProposalStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalStatusSuccessful || s == ProposalStatusFailed
}

// Operation is a single call within a transaction proposal.
type Operation struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}

// IsValueTransfer reports whether the operation is a plain native-token
// transfer with no call data.
func (op Operation) IsValueTransfer() bool {
	return len(op.Data) == 0 && op.Value != nil && op.Value.Sign() > 0
}

// Simulation records the latest simulation outcome for a proposal.
type Simulation struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the simulation is recent enough to act on.
func (s *Simulation) Fresh(window time.Duration, now time.Time) bool {
	return s != nil && now.Sub(s.Timestamp) <= window
}

// Proposal is a pending transaction or message awaiting sufficient
// approvals. Transaction proposals carry Operations and fee parameters;
// message proposals carry Message.
type Proposal struct {
	ID      uuid.UUID      `json:"id"`
	Kind    ProposalKind   `json:"kind"`
	Account common.Address `json:"account"`
	ChainID uint64         `json:"chainId"`

	// Hash is the deterministic content hash signed by approvers.
	Hash common.Hash `json:"hash"`

	Status   ProposalStatus `json:"status"`
	Proposer common.Address `json:"proposer"`

	// PolicyKey pins the policy to execute under once chosen; while nil
	// any satisfiable policy of the account is eligible.
	PolicyKey *PolicyKey `json:"policyKey,omitempty"`

	Simulation *Simulation `json:"simulation,omitempty"`

	// Transaction proposal fields.
	Operations   []Operation    `json:"operations,omitempty"`
	Nonce        uint64         `json:"nonce"`
	GasLimit     uint64         `json:"gasLimit"`
	FeeToken     common.Address `json:"feeToken"`
	MaxFeeAmount *big.Int       `json:"maxFeeAmount,omitempty"`
	Salt         [32]byte       `json:"salt"`

	// Message proposal field.
	Message []byte `json:"message,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanTransition reports whether a status transition is legal.
func (p *Proposal) CanTransition(to ProposalStatus) bool {
	switch p.Status {
	case ProposalStatusPending:
		return to == ProposalStatusScheduled || to == ProposalStatusExecuting
	case ProposalStatusScheduled:
		return to == ProposalStatusExecuting || to == ProposalStatusFailed
	case ProposalStatusExecuting:
		// Executing moves back to Scheduled when the contract defers the
		// submitted transaction under a policy delay.
		return to == ProposalStatusScheduled || to == ProposalStatusSuccessful || to == ProposalStatusFailed
	default:
		return false
	}
}
