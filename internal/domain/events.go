package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventMeta locates a confirmed log within the chain. Block/TxIndex/LogIndex
// give a total order over events, used to tie-break same-block activations.
type EventMeta struct {
	Account  common.Address
	Block    uint64
	TxHash   common.Hash
	TxIndex  uint
	LogIndex uint
	Time     time.Time
}

// Before reports whether m was emitted before other in chain order.
func (m EventMeta) Before(other EventMeta) bool {
	if m.Block != other.Block {
		return m.Block < other.Block
	}
	if m.TxIndex != other.TxIndex {
		return m.TxIndex < other.TxIndex
	}
	return m.LogIndex < other.LogIndex
}

// PolicyAddedEvent is emitted when a policy (or policy update) activates.
type PolicyAddedEvent struct {
	EventMeta
	Key  PolicyKey
	Hash common.Hash
}

// PolicyRemovedEvent is emitted when a policy removal activates.
type PolicyRemovedEvent struct {
	EventMeta
	Key PolicyKey
}

// ScheduledEvent is emitted when the account contract schedules a
// transaction for delayed execution.
type ScheduledEvent struct {
	EventMeta
	ProposalHash common.Hash
	Timestamp    time.Time
}

// ScheduleCancelledEvent is emitted when a scheduled transaction is
// cancelled before executing.
type ScheduleCancelledEvent struct {
	EventMeta
	ProposalHash common.Hash
}

// ProposalUpdated is published whenever a proposal changes status, so
// collaborators (and blocked proposals) can react.
type ProposalUpdated struct {
	ProposalID uuid.UUID
	Account    common.Address
	Status     ProposalStatus
}
