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

func TestReconciler_OnScheduledSubmitsDelayedFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xf000000000000000000000000000000000000001"))

	scheduledFor := time.Now().Add(time.Hour)
	require.NoError(t, env.reconciler.OnScheduled(ctx, domain.ScheduledEvent{
		EventMeta:    domain.EventMeta{Account: proposal.Account, Block: 110},
		ProposalHash: proposal.Hash,
		Timestamp:    scheduledFor,
	}))

	assert.Equal(t, domain.ProposalStatusScheduled, proposal.Status)

	record, err := env.scheduled.Get(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledFor, record.ScheduledFor)
	assert.False(t, record.Cancelled)

	// Confirmation at the root, execution beneath it, delayed simulation as
	// the leaf that fires first.
	flows := env.scheduler.Flows()
	require.Len(t, flows, 1)
	root := flows[0]
	assert.Equal(t, usecase.QueueConfirmations, root.Job.Queue)
	require.Len(t, root.Children, 1)
	assert.Equal(t, usecase.QueueExecutions, root.Children[0].Job.Queue)
	require.Len(t, root.Children[0].Children, 1)
	leaf := root.Children[0].Children[0].Job
	assert.Equal(t, usecase.QueueSimulations, leaf.Queue)
	assert.Greater(t, leaf.Delay, time.Duration(0))
}

// An executing proposal may be deferred by the contract under a policy
// delay; the Scheduled event then moves it back to Scheduled.
func TestReconciler_OnScheduledDefersExecutingProposal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xf000000000000000000000000000000000000006"))
	proposal.Status = domain.ProposalStatusExecuting

	require.NoError(t, env.reconciler.OnScheduled(ctx, domain.ScheduledEvent{
		EventMeta:    domain.EventMeta{Account: proposal.Account, Block: 115},
		ProposalHash: proposal.Hash,
		Timestamp:    time.Now().Add(time.Hour),
	}))

	assert.Equal(t, domain.ProposalStatusScheduled, proposal.Status)
}

func TestReconciler_OnScheduleCancelledRemovesJobs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xf000000000000000000000000000000000000002"))

	require.NoError(t, env.reconciler.OnScheduled(ctx, domain.ScheduledEvent{
		EventMeta:    domain.EventMeta{Account: proposal.Account, Block: 110},
		ProposalHash: proposal.Hash,
		Timestamp:    time.Now().Add(time.Hour),
	}))

	require.NoError(t, env.reconciler.OnScheduleCancelled(ctx, domain.ScheduleCancelledEvent{
		EventMeta:    domain.EventMeta{Account: proposal.Account, Block: 111},
		ProposalHash: proposal.Hash,
	}))

	record, err := env.scheduled.Get(ctx, proposal.ID)
	require.NoError(t, err)
	assert.True(t, record.Cancelled)
	assert.Equal(t, domain.ProposalStatusFailed, proposal.Status)
	assert.False(t, env.scheduler.Has(usecase.JobID(usecase.QueueSimulations, proposal.ID)))
	assert.False(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))
}

func TestReconciler_EventsForUnknownProposalsAreIgnored(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	unknown := common.HexToHash("0xabcd")
	assert.NoError(t, env.reconciler.OnScheduled(ctx, domain.ScheduledEvent{
		ProposalHash: unknown,
		Timestamp:    time.Now().Add(time.Hour),
	}))
	assert.NoError(t, env.reconciler.OnScheduleCancelled(ctx, domain.ScheduleCancelledEvent{
		ProposalHash: unknown,
	}))
}

func TestReconciler_OnPolicyAddedActivatesDraftAndUnblocks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	account := common.HexToAddress("0xf000000000000000000000000000000000000003")

	// A drafted policy is not yet eligible for execution.
	require.NoError(t, env.policies.SaveDraft(ctx, account, 3, "drafted", &domain.PolicyState{
		Approvers: []common.Address{proposer},
		Threshold: 1,
		Transfers: domain.TransfersConfig{DefaultAllow: true},
	}))

	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 5)},
	})
	require.NoError(t, err)
	proposal.Simulation = &domain.Simulation{Success: true, Timestamp: time.Now()}

	require.NoError(t, env.reconciler.OnPolicyAdded(ctx, domain.PolicyAddedEvent{
		EventMeta: domain.EventMeta{Account: account, Block: 200},
		Key:       3,
		Hash:      common.HexToHash("0x1234"),
	}))

	activated, err := env.policies.Get(ctx, account, 3)
	require.NoError(t, err)
	require.NotNil(t, activated.ActiveState())
	assert.Equal(t, uint64(200), *activated.State.ActivationBlock)

	// The pending proposal is re-attempted and now executes.
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueExecutions, proposal.ID)))
}

func TestReconciler_OnPolicyAddedForUnknownStateIsIgnored(t *testing.T) {
	env := newTestEnv()

	err := env.reconciler.OnPolicyAdded(context.Background(), domain.PolicyAddedEvent{
		EventMeta: domain.EventMeta{
			Account: common.HexToAddress("0xf000000000000000000000000000000000000004"),
			Block:   200,
		},
		Key:  9,
		Hash: common.HexToHash("0x5678"),
	})
	assert.NoError(t, err)
}

func TestReconciler_OnPolicyRemovedDeactivatesPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, approver := newSigner(t)
	account := common.HexToAddress("0xf000000000000000000000000000000000000005")
	env.addActivePolicy(account, 1, 1, approver)

	require.NoError(t, env.reconciler.OnPolicyRemoved(ctx, domain.PolicyRemovedEvent{
		EventMeta: domain.EventMeta{Account: account, Block: 300},
		Key:       1,
	}))

	removed, err := env.policies.Get(ctx, account, 1)
	require.NoError(t, err)
	assert.Nil(t, removed.ActiveState())
	assert.True(t, removed.State.Removed)
}
