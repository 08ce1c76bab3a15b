package usecase

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/domain"
)

// ProposalRepository handles persistence of proposals.
type ProposalRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Proposal, error)
	GetByHash(ctx context.Context, hash common.Hash) (*domain.Proposal, error)
	Save(ctx context.Context, proposal *domain.Proposal) error
	// NextNonce allocates the next unused nonce for the account.
	NextNonce(ctx context.Context, account common.Address) (uint64, error)
	// ListPending returns proposals of the account not in a terminal status.
	ListPending(ctx context.Context, account common.Address) ([]*domain.Proposal, error)
	// ListUnconfirmed returns all proposals lacking a terminal receipt,
	// used by the orphaned-job recovery pass.
	ListUnconfirmed(ctx context.Context) ([]*domain.Proposal, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PolicyRepository handles persistence of policies and their states.
type PolicyRepository interface {
	Get(ctx context.Context, account common.Address, key domain.PolicyKey) (*domain.Policy, error)
	ListByAccount(ctx context.Context, account common.Address) ([]*domain.Policy, error)
	// NextKey allocates the next auto-assigned policy key (>= 32).
	NextKey(ctx context.Context, account common.Address) (domain.PolicyKey, error)
	// SaveDraft upserts a draft state for (account, key). Insert-or-get
	// semantics: a concurrent save of the same key yields the existing row.
	SaveDraft(ctx context.Context, account common.Address, key domain.PolicyKey, name string, draft *domain.PolicyState) error
	// Activate marks the state matching hash as activated as-of block and
	// returns it. ErrNotFound when no state carries that hash.
	Activate(ctx context.Context, account common.Address, key domain.PolicyKey, hash common.Hash, block uint64) (*domain.PolicyState, error)
	// ActivateRemoval marks the policy removed as-of block.
	ActivateRemoval(ctx context.Context, account common.Address, key domain.PolicyKey, block uint64) error
	// DeleteCreatedBy removes policies whose only state was being created
	// by the proposal; policies with prior state are left untouched.
	DeleteCreatedBy(ctx context.Context, proposalID uuid.UUID) error
}

// ApprovalRepository handles persistence of approvals.
type ApprovalRepository interface {
	ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]domain.Approval, error)
	// Put upserts the unique (proposal, approver) approval.
	Put(ctx context.Context, approval domain.Approval) error
	MarkInvalid(ctx context.Context, proposalID uuid.UUID, approver common.Address) error
}

// TransactionRepository handles persistence of system transactions,
// receipts and the transfers extracted from them.
type TransactionRepository interface {
	Save(ctx context.Context, tx *domain.SystemTx) error
	GetByProposal(ctx context.Context, proposalID uuid.UUID) (*domain.SystemTx, error)
	SaveReceipt(ctx context.Context, receipt *domain.Receipt) error
	RecordTransfers(ctx context.Context, transfers []domain.Transfer) error
	// TotalSpent implements policy.SpendingReader.
	TotalSpent(ctx context.Context, account common.Address, key domain.PolicyKey, token common.Address, since time.Time) (*big.Int, error)
}

// ScheduledRepository handles persistence of schedule records.
type ScheduledRepository interface {
	Get(ctx context.Context, proposalID uuid.UUID) (*domain.Scheduled, error)
	Save(ctx context.Context, scheduled *domain.Scheduled) error
	Cancel(ctx context.Context, proposalID uuid.UUID) error
}

// ChainClient covers the network-bound chain operations: simulation,
// submission and receipt retrieval.
type ChainClient interface {
	// Simulate dry-runs the proposal's operations and reports success.
	Simulate(ctx context.Context, proposal *domain.Proposal) (bool, error)
	// Submit broadcasts the execution transaction and returns its hash.
	Submit(ctx context.Context, proposal *domain.Proposal, signature []byte, fee *FeeParams) (common.Hash, error)
	// WaitReceipt blocks until the transaction is confirmed to the
	// configured depth, with bounded polling.
	WaitReceipt(ctx context.Context, txHash common.Hash) (*domain.Receipt, error)
}

// FeeParams are the paymaster parameters computed before submission.
type FeeParams struct {
	Token          common.Address
	GasPrice       *big.Int
	RequiredAmount *big.Int
}

// Paymaster computes fee-token parameters for a proposal, applying the
// configured gas-price drift tolerance.
type Paymaster interface {
	FeeParams(ctx context.Context, proposal *domain.Proposal) (*FeeParams, error)
}

// Queue names. Each queue carries one typed payload.
type Queue string

const (
	QueueSimulations   Queue = "Simulations"
	QueueExecutions    Queue = "Executions"
	QueueConfirmations Queue = "Confirmations"
)

// JobPayload is the payload carried by every job.
type JobPayload struct {
	ProposalID uuid.UUID `json:"proposalId"`
	ChainID    uint64    `json:"chainId"`
}

// Job is one schedulable unit. ID is derived from the proposal so enqueues
// are idempotent: re-adding a job with the same ID is a no-op.
type Job struct {
	ID      string        `json:"id"`
	Queue   Queue         `json:"queue"`
	Payload JobPayload    `json:"payload"`
	Delay   time.Duration `json:"delay,omitempty"`
}

// Flow is a typed DAG of jobs: children complete before the parent runs.
type Flow struct {
	Job      Job    `json:"job"`
	Children []Flow `json:"children,omitempty"`
}

// JobScheduler submits jobs and flows to the queue backend.
type JobScheduler interface {
	// Enqueue adds a job; a job with an already-known ID is a no-op.
	Enqueue(ctx context.Context, job Job) error
	// SubmitFlow submits a DAG, scheduling leaves first and each parent
	// once its children complete.
	SubmitFlow(ctx context.Context, flow Flow) error
	// Remove deletes a not-yet-running job; no-op if it already ran.
	Remove(ctx context.Context, jobID string) error
	// ActiveJobIDs lists ids of jobs currently queued, delayed or running.
	ActiveJobIDs(ctx context.Context) (map[string]struct{}, error)
}

// Locker is a keyed distributed mutex with scoped acquisition.
type Locker interface {
	// TryAcquire returns a release function and true when the lock was
	// obtained, or false when another holder owns it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// EventBus publishes proposal lifecycle events to collaborators.
type EventBus interface {
	ProposalUpdated(ctx context.Context, event domain.ProposalUpdated) error
}

// PriceQuoter quotes a fee token's price in native wei per token unit, as
// an exact ratio. Backed by an injected cache, never an ambient singleton.
type PriceQuoter interface {
	Quote(ctx context.Context, token common.Address) (*big.Rat, error)
}
