package usecase_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// In-memory port implementations for use case tests.

type fakeProposals struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Proposal
}

func newFakeProposals() *fakeProposals {
	return &fakeProposals{items: make(map[uuid.UUID]*domain.Proposal)}
}

func (f *fakeProposals) Get(_ context.Context, id uuid.UUID) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakeProposals) GetByHash(_ context.Context, hash common.Hash) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.items {
		if p.Hash == hash {
			return p, nil
		}
	}
	return nil, fmt.Errorf("proposal %s: %w", hash, domain.ErrNotFound)
}

func (f *fakeProposals) Save(_ context.Context, p *domain.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[p.ID] = p
	return nil
}

func (f *fakeProposals) NextNonce(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next uint64
	for _, p := range f.items {
		if p.Account == account && p.Kind == domain.TransactionProposal && p.Nonce >= next {
			next = p.Nonce + 1
		}
	}
	return next, nil
}

func (f *fakeProposals) ListPending(_ context.Context, account common.Address) ([]*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*domain.Proposal
	for _, p := range f.items {
		if p.Account == account && !p.Status.Terminal() {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

func (f *fakeProposals) ListUnconfirmed(_ context.Context) ([]*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var unconfirmed []*domain.Proposal
	for _, p := range f.items {
		if !p.Status.Terminal() {
			unconfirmed = append(unconfirmed, p)
		}
	}
	return unconfirmed, nil
}

func (f *fakeProposals) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

type policyID struct {
	account common.Address
	key     domain.PolicyKey
}

type fakePolicies struct {
	mu    sync.Mutex
	items map[policyID]*domain.Policy
}

func newFakePolicies() *fakePolicies {
	return &fakePolicies{items: make(map[policyID]*domain.Policy)}
}

func (f *fakePolicies) put(p *domain.Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[policyID{p.Account, p.Key}] = p
}

func (f *fakePolicies) Get(_ context.Context, account common.Address, key domain.PolicyKey) (*domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[policyID{account, key}]
	if !ok {
		return nil, fmt.Errorf("policy %d: %w", key, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakePolicies) ListByAccount(_ context.Context, account common.Address) ([]*domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var policies []*domain.Policy
	for id, p := range f.items {
		if id.account == account {
			policies = append(policies, p)
		}
	}
	return policies, nil
}

func (f *fakePolicies) NextKey(_ context.Context, account common.Address) (domain.PolicyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := domain.FirstAutoPolicyKey
	for id := range f.items {
		if id.account == account && id.key >= next {
			next = id.key + 1
		}
	}
	return next, nil
}

func (f *fakePolicies) SaveDraft(_ context.Context, account common.Address, key domain.PolicyKey, name string, draft *domain.PolicyState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := policyID{account, key}
	p, ok := f.items[id]
	if !ok {
		p = &domain.Policy{Account: account, Key: key, Name: name}
		f.items[id] = p
	}
	p.Draft = draft
	return nil
}

func (f *fakePolicies) Activate(_ context.Context, account common.Address, key domain.PolicyKey, _ common.Hash, block uint64) (*domain.PolicyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[policyID{account, key}]
	if !ok || p.Draft == nil {
		return nil, fmt.Errorf("policy %d draft: %w", key, domain.ErrNotFound)
	}
	p.State = p.Draft
	p.State.ActivationBlock = &block
	p.Draft = nil
	return p.State, nil
}

func (f *fakePolicies) ActivateRemoval(_ context.Context, account common.Address, key domain.PolicyKey, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.items[policyID{account, key}]; ok {
		p.State = &domain.PolicyState{Removed: true, ActivationBlock: &block}
		p.Draft = nil
	}
	return nil
}

func (f *fakePolicies) DeleteCreatedBy(_ context.Context, proposalID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.items {
		if p.State == nil && p.Draft != nil && p.Draft.ProposalID != nil && *p.Draft.ProposalID == proposalID {
			delete(f.items, id)
		}
	}
	return nil
}

type approvalID struct {
	proposal uuid.UUID
	approver common.Address
}

type fakeApprovals struct {
	mu    sync.Mutex
	items map[approvalID]domain.Approval
}

func newFakeApprovals() *fakeApprovals {
	return &fakeApprovals{items: make(map[approvalID]domain.Approval)}
}

func (f *fakeApprovals) ListByProposal(_ context.Context, proposalID uuid.UUID) ([]domain.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var approvals []domain.Approval
	for id, a := range f.items {
		if id.proposal == proposalID {
			approvals = append(approvals, a)
		}
	}
	return approvals, nil
}

func (f *fakeApprovals) Put(_ context.Context, a domain.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[approvalID{a.ProposalID, a.Approver}] = a
	return nil
}

func (f *fakeApprovals) MarkInvalid(_ context.Context, proposalID uuid.UUID, approver common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := approvalID{proposalID, approver}
	if a, ok := f.items[id]; ok {
		a.Invalid = true
		f.items[id] = a
	}
	return nil
}

type fakeTxs struct {
	mu        sync.Mutex
	txs       map[uuid.UUID]*domain.SystemTx
	receipts  []*domain.Receipt
	transfers []domain.Transfer
}

func newFakeTxs() *fakeTxs {
	return &fakeTxs{txs: make(map[uuid.UUID]*domain.SystemTx)}
}

func (f *fakeTxs) Save(_ context.Context, tx *domain.SystemTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.ProposalID] = tx
	return nil
}

func (f *fakeTxs) GetByProposal(_ context.Context, proposalID uuid.UUID) (*domain.SystemTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[proposalID]
	if !ok {
		return nil, fmt.Errorf("tx for %s: %w", proposalID, domain.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeTxs) SaveReceipt(_ context.Context, receipt *domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receipt)
	return nil
}

func (f *fakeTxs) RecordTransfers(_ context.Context, transfers []domain.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transfers...)
	return nil
}

func (f *fakeTxs) TotalSpent(_ context.Context, account common.Address, key domain.PolicyKey, token common.Address, since time.Time) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := new(big.Int)
	for _, t := range f.transfers {
		if t.Account == account && t.PolicyKey == key && t.Token == token && !t.Timestamp.Before(since) {
			total.Add(total, t.Amount)
		}
	}
	return total, nil
}

type fakeScheduled struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Scheduled
}

func newFakeScheduled() *fakeScheduled {
	return &fakeScheduled{items: make(map[uuid.UUID]*domain.Scheduled)}
}

func (f *fakeScheduled) Get(_ context.Context, proposalID uuid.UUID) (*domain.Scheduled, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[proposalID]
	if !ok {
		return nil, fmt.Errorf("schedule for %s: %w", proposalID, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeScheduled) Save(_ context.Context, s *domain.Scheduled) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[s.ProposalID] = s
	return nil
}

func (f *fakeScheduled) Cancel(_ context.Context, proposalID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.items[proposalID]; ok {
		s.Cancelled = true
	}
	return nil
}

type fakeChain struct {
	mu           sync.Mutex
	simulateOK   bool
	simulateErr  error
	submitHash   common.Hash
	submitErr    error
	submissions  int
	receipt      *domain.Receipt
	contractSigs bool
}

func (f *fakeChain) Simulate(context.Context, *domain.Proposal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simulateOK, f.simulateErr
}

func (f *fakeChain) Submit(context.Context, *domain.Proposal, []byte, *usecase.FeeParams) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submissions++
	return f.submitHash, nil
}

func (f *fakeChain) WaitReceipt(context.Context, common.Hash) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipt, nil
}

// IsValidSignature makes fakeChain usable as the verifier's ERC-1271
// caller; contract signatures validate only when contractSigs is set.
func (f *fakeChain) IsValidSignature(context.Context, common.Address, common.Hash, []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contractSigs, nil
}

type fakePaymaster struct {
	fee *usecase.FeeParams
	err error
}

func (f *fakePaymaster) FeeParams(context.Context, *domain.Proposal) (*usecase.FeeParams, error) {
	return f.fee, f.err
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.ProposalUpdated
}

func (f *fakeBus) ProposalUpdated(_ context.Context, event domain.ProposalUpdated) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
