package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SystemTx is the on-chain transaction submitted for an executed proposal.
type SystemTx struct {
	ID         uuid.UUID   `json:"id"`
	ProposalID uuid.UUID   `json:"proposalId"`
	Hash       common.Hash `json:"hash"`
	ChainID    uint64      `json:"chainId"`

	// PolicyKey records the policy the transaction executed under.
	PolicyKey PolicyKey `json:"policyKey"`

	GasPrice    *big.Int  `json:"gasPrice,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Receipt is the execution receipt of a system transaction.
type Receipt struct {
	TxHash    common.Hash `json:"txHash"`
	Success   bool        `json:"success"`
	GasUsed   uint64      `json:"gasUsed"`
	Block     uint64      `json:"block"`
	Timestamp time.Time   `json:"timestamp"`

	// Responses holds the return data of each operation on success.
	Responses [][]byte `json:"responses,omitempty"`

	// RevertReason holds the decoded revert reason on failure.
	RevertReason string `json:"revertReason,omitempty"`
}

// Transfer is an outgoing token movement extracted from a confirmed
// transaction, recorded for transfer-limit accounting. The zero token
// address denotes the native token.
type Transfer struct {
	ProposalID uuid.UUID      `json:"proposalId"`
	Account    common.Address `json:"account"`
	PolicyKey  PolicyKey      `json:"policyKey"`
	Token      common.Address `json:"token"`
	To         common.Address `json:"to"`
	Amount     *big.Int       `json:"amount"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Scheduled links a transaction proposal to its on-chain scheduled time.
// Created on a confirmed Scheduled event, closed by ScheduleCancelled.
type Scheduled struct {
	ProposalID   uuid.UUID `json:"proposalId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Cancelled    bool      `json:"cancelled"`
}
