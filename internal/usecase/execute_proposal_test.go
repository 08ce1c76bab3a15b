package usecase_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// readyProposal creates a proposal with a fresh successful simulation under
// a threshold-1 policy, so execution readiness depends only on the scenario
// under test.
func readyProposal(t *testing.T, env *testEnv, account common.Address) *domain.Proposal {
	t.Helper()
	_, proposer := newSigner(t)
	env.addActivePolicy(account, 1, 1, proposer)

	proposal, err := env.create.Run(context.Background(), usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 5)},
	})
	require.NoError(t, err)

	proposal.Simulation = &domain.Simulation{Success: true, Timestamp: time.Now()}
	return proposal
}

func TestExecuteProposal_CancelledScheduleStopsExecution(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000001"))

	require.NoError(t, env.scheduled.Save(ctx, &domain.Scheduled{
		ProposalID:   proposal.ID,
		ScheduledFor: time.Now().Add(-time.Minute),
		Cancelled:    true,
	}))

	err := env.execute.Run(ctx, payloadFor(proposal))
	assert.ErrorIs(t, err, domain.ErrNotScheduled)
	assert.Equal(t, 0, env.chain.submissions)
}

func TestExecuteProposal_MissingSimulationIsFatal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000002"))
	proposal.Simulation = nil

	err := env.execute.Run(ctx, payloadFor(proposal))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSimulationRequired)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, 0, env.chain.submissions)
}

func TestExecuteProposal_StaleSimulationRetriesAfterResimulating(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000003"))
	proposal.Simulation = &domain.Simulation{
		Success:   true,
		Timestamp: time.Now().Add(-2 * env.cfg.SimulationFreshness),
	}

	err := env.execute.Run(ctx, payloadFor(proposal))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSimulationRequired)
	// Retryable, not fatal: the job re-runs once the simulation lands.
	assert.False(t, domain.IsFatal(err))
	assert.True(t, env.scheduler.Has(usecase.JobID(usecase.QueueSimulations, proposal.ID)))
	assert.Equal(t, 0, env.chain.submissions)
}

func TestExecuteProposal_FeeAboveMaxFailsProposal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000004"))
	proposal.MaxFeeAmount = big.NewInt(50)
	env.paymaster.fee = &usecase.FeeParams{
		GasPrice:       big.NewInt(10),
		RequiredAmount: big.NewInt(200),
	}

	err := env.execute.Run(ctx, payloadFor(proposal))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFeeExceedsMax)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.ProposalStatusFailed, proposal.Status)
	assert.Equal(t, 0, env.chain.submissions)
}

func TestExecuteProposal_IgnoresApprovalsOutsideThePolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000007"))

	// Anyone with a valid signature may approve, including addresses the
	// winning policy does not list. The encoded signature covers only the
	// policy's approver set, so the extra approval must not derail
	// execution of an otherwise satisfied proposal.
	outsiderKey, outsider := newSigner(t)
	require.NoError(t, env.approve.Run(ctx, usecase.ApproveProposalParams{
		ProposalID: proposal.ID,
		Approver:   outsider,
		Signature:  signHash(t, outsiderKey, proposal.Hash),
	}))

	env.chain.submitHash = common.HexToHash("0xfeed")
	require.NoError(t, env.execute.Run(ctx, payloadFor(proposal)))
	assert.Equal(t, domain.ProposalStatusExecuting, proposal.Status)
	assert.Equal(t, 1, env.chain.submissions)
}

func TestExecuteProposal_TerminalProposalIsNoOp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	proposal := readyProposal(t, env, common.HexToAddress("0xe000000000000000000000000000000000000005"))
	proposal.Status = domain.ProposalStatusSuccessful

	err := env.execute.Run(ctx, payloadFor(proposal))
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.Equal(t, 0, env.chain.submissions)
}

func TestExecuteProposal_PinnedPolicyIsTheOnlyCandidate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, proposer := newSigner(t)
	_, stranger := newSigner(t)
	account := common.HexToAddress("0xe000000000000000000000000000000000000006")

	// Key 1 would satisfy, but the proposal pins key 2 which requires an
	// approver the proposer is not.
	env.addActivePolicy(account, 1, 1, proposer)
	env.addActivePolicy(account, 2, 1, stranger)

	pinned := domain.PolicyKey(2)
	proposal, err := env.create.Run(ctx, usecase.CreateProposalParams{
		Account:    account,
		Proposer:   proposer,
		Operations: []domain.Operation{nativeTransferOp(proposer, 5)},
		PolicyKey:  &pinned,
	})
	require.NoError(t, err)
	proposal.Simulation = &domain.Simulation{Success: true, Timestamp: time.Now()}

	err = env.execute.Run(ctx, payloadFor(proposal))
	require.Error(t, err)
	assert.Equal(t, 0, env.chain.submissions)
}
