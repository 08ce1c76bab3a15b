package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// TestPipeline_CreateApproveExecuteConfirm drives one transaction proposal
// through the whole pipeline: creation, simulation, a second approval that
// satisfies the policy, execution and receipt confirmation.
func TestPipeline_CreateApproveExecuteConfirm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	keyB, approverB := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000001")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	env.addActivePolicy(account, 1, 2, proposer, approverB)

	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(recipient, 42)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, proposal.Status)
	assert.Equal(t, env.cfg.ChainID, proposal.ChainID)
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueSimulations, proposal.ID)))

	// Simulation succeeds, but the policy still needs a second approval:
	// no execution job yet.
	env.chain.simulateOK = true
	require.NoError(t, env.simulate.Run(ctx, payloadFor(proposal)))
	require.NotNil(t, proposal.Simulation)
	assert.True(t, proposal.Simulation.Success)
	assert.False(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))

	// The second approver signs the proposal hash; the proposer's approval
	// is implicit, so the policy is now satisfied.
	require.NoError(t, env.approve.Run(ctx, usecase.ApproveProposalParams{
		ProposalID: proposal.ID,
		Approver:   approverB,
		Signature:  signHash(t, keyB, proposal.Hash),
	}))
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))

	env.chain.submitHash = common.HexToHash("0xbeef")
	require.NoError(t, env.execute.Run(ctx, payloadFor(proposal)))
	assert.Equal(t, domain.ProposalStatusExecuting, proposal.Status)
	assert.Equal(t, 1, env.chain.submissions)

	systx, err := env.txs.GetByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, env.chain.submitHash, systx.Hash)
	assert.Equal(t, domain.PolicyKey(1), systx.PolicyKey)
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueConfirmations, proposal.ID)))

	env.chain.receipt = &domain.Receipt{
		TxHash:    env.chain.submitHash,
		Success:   true,
		GasUsed:   21000,
		Block:     120,
		Timestamp: time.Now(),
	}
	require.NoError(t, env.confirm.Run(ctx, payloadFor(proposal)))
	assert.Equal(t, domain.ProposalStatusSuccessful, proposal.Status)
	require.Len(t, env.txs.receipts, 1)

	// The native transfer is recorded against the executing policy.
	require.Len(t, env.txs.transfers, 1)
	transfer := env.txs.transfers[0]
	assert.Equal(t, proposal.ID, transfer.ProposalID)
	assert.Equal(t, systx.PolicyKey, transfer.PolicyKey)
	assert.Equal(t, recipient, transfer.To)
	assert.Equal(t, "42", transfer.Amount.String())

	require.Len(t, env.bus.events, 1)
	assert.Equal(t, domain.ProposalStatusSuccessful, env.bus.events[0].Status)
}

// TestPipeline_CreationSignatureAutoApproves covers the shortcut where the
// proposer hands over an approval signature together with the proposal. The
// proposer here is a contract account, so its signature validates via
// ERC-1271 against whatever hash the proposal ends up with.
func TestPipeline_CreationSignatureAutoApproves(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000007")
	env.addActivePolicy(account, 1, 1, proposer)
	env.chain.contractSigs = true

	contractSig := []byte{0x01, 0x02, 0x03}
	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 7)},
		Signature:  contractSig,
	})
	require.NoError(t, err)

	approvals, err := env.approvals.ListByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, proposer, approvals[0].Approver)
	assert.Equal(t, contractSig, approvals[0].Signature)

	// No further approvals needed: simulation success alone unlocks
	// execution.
	env.chain.simulateOK = true
	require.NoError(t, env.simulate.Run(ctx, payloadFor(proposal)))
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))

	env.chain.submitHash = common.HexToHash("0xcafe")
	require.NoError(t, env.execute.Run(ctx, payloadFor(proposal)))
	assert.Equal(t, domain.ProposalStatusExecuting, proposal.Status)
	assert.Equal(t, 1, env.chain.submissions)
}

func TestApproveProposal_RecordsApproval(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	keyA, proposer := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000002")

	env.addActivePolicy(account, 1, 1, proposer)

	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 1)},
	})
	require.NoError(t, err)

	require.NoError(t, env.approve.Run(ctx, usecase.ApproveProposalParams{
		ProposalID: proposal.ID,
		Approver:   proposer,
		Signature:  signHash(t, keyA, proposal.Hash),
	}))

	approvals, err := env.approvals.ListByProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, proposer, approvals[0].Approver)
}

func TestPipeline_FailedSimulationLeavesProposalPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000003")
	env.addActivePolicy(account, 1, 1, proposer)

	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 1)},
	})
	require.NoError(t, err)

	env.chain.simulateOK = false
	require.NoError(t, env.simulate.Run(ctx, payloadFor(proposal)))

	assert.Equal(t, domain.ProposalStatusPending, proposal.Status)
	require.NotNil(t, proposal.Simulation)
	assert.False(t, proposal.Simulation.Success)
	assert.False(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))
}

func TestPipeline_RevertedReceiptFailsProposal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000004")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	env.addActivePolicy(account, 1, 1, proposer)

	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(recipient, 42)},
	})
	require.NoError(t, err)

	env.chain.simulateOK = true
	require.NoError(t, env.simulate.Run(ctx, payloadFor(proposal)))

	env.chain.submitHash = common.HexToHash("0xdead")
	require.NoError(t, env.execute.Run(ctx, payloadFor(proposal)))

	env.chain.receipt = &domain.Receipt{
		TxHash:       env.chain.submitHash,
		Success:      false,
		RevertReason: "InsufficientBalance()",
		Timestamp:    time.Now(),
	}
	require.NoError(t, env.confirm.Run(ctx, payloadFor(proposal)))

	assert.Equal(t, domain.ProposalStatusFailed, proposal.Status)
	// A reverted transfer must not count against spending limits.
	assert.Empty(t, env.txs.transfers)
	require.Len(t, env.bus.events, 1)
	assert.Equal(t, domain.ProposalStatusFailed, env.bus.events[0].Status)
}

func TestCreateProposal_RequiresOperationsOrMessage(t *testing.T) {
	env := newTestEnv()
	_, proposer := newSigner(t)

	_, err := env.create.Run(context.Background(), usecase.CreateProposalParams{
		Account:  common.HexToAddress("0xacc0000000000000000000000000000000000005"),
		Proposer: proposer,
	})
	assert.ErrorIs(t, err, domain.ErrNoOperations)
}

func TestCreateProposal_AllocatesSequentialNonces(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	account := common.HexToAddress("0xacc0000000000000000000000000000000000006")
	env.addActivePolicy(account, 1, 1, proposer)

	first, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 1)},
	})
	require.NoError(t, err)
	second, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 2)},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Nonce+1, second.Nonce)
	assert.NotEqual(t, first.Hash, second.Hash)
}
