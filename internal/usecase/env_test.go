package usecase_test

import (
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/AlloPay/accountd/internal/adapters/queue"
	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/policy"
	"github.com/AlloPay/accountd/internal/usecase"
)

// testEnv wires the full use case graph over in-memory adapters.
type testEnv struct {
	cfg       *config.RuntimeConfig
	proposals *fakeProposals
	policies  *fakePolicies
	approvals *fakeApprovals
	txs       *fakeTxs
	scheduled *fakeScheduled
	chain     *fakeChain
	paymaster *fakePaymaster
	bus       *fakeBus
	scheduler *queue.MemoryScheduler
	locker    *queue.MemoryLocker

	create      *usecase.CreateProposal
	approve     *usecase.ApproveProposal
	propose     *usecase.ProposePolicy
	simulate    *usecase.SimulateProposal
	execute     *usecase.ExecuteProposal
	confirm     *usecase.ConfirmProposal
	recoverJobs *usecase.RecoverJobs
	reconciler  *usecase.Reconciler
}

func newTestEnv() *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		cfg: &config.RuntimeConfig{
			ChainID:             31337,
			SimulationFreshness: time.Minute,
			RecoveryLockTTL:     time.Minute,
		},
		proposals: newFakeProposals(),
		policies:  newFakePolicies(),
		approvals: newFakeApprovals(),
		txs:       newFakeTxs(),
		scheduled: newFakeScheduled(),
		chain:     &fakeChain{},
		paymaster: &fakePaymaster{fee: &usecase.FeeParams{
			GasPrice:       big.NewInt(10),
			RequiredAmount: big.NewInt(100),
		}},
		bus:       &fakeBus{},
		scheduler: queue.NewMemoryScheduler(),
		locker:    queue.NewMemoryLocker(),
	}

	engine := policy.NewEngine(env.txs)
	verifier := approval.NewVerifier(env.chain, log)

	attempt := usecase.NewAttemptExecution(
		env.cfg, env.policies, env.approvals, verifier, engine, env.scheduler, log)
	env.approve = usecase.NewApproveProposal(env.proposals, env.approvals, verifier, attempt, log)
	env.create = usecase.NewCreateProposal(env.cfg, env.proposals, env.approve, env.scheduler, log)
	env.propose = usecase.NewProposePolicy(env.policies, log)
	env.simulate = usecase.NewSimulateProposal(env.proposals, env.chain, attempt, log)
	env.execute = usecase.NewExecuteProposal(
		env.cfg, env.proposals, env.policies, env.scheduled, env.txs,
		attempt, env.chain, env.paymaster, env.scheduler, log)
	env.confirm = usecase.NewConfirmProposal(
		env.proposals, env.txs, env.chain, attempt, env.bus, log)
	env.recoverJobs = usecase.NewRecoverJobs(
		env.cfg, env.proposals, env.txs, env.scheduler, env.locker, log)
	env.reconciler = usecase.NewReconciler(
		env.proposals, env.policies, env.scheduled, attempt, env.scheduler, log)

	return env
}

// addActivePolicy registers an on-chain activated policy allowing transfers
// by default.
func (env *testEnv) addActivePolicy(account common.Address, key domain.PolicyKey, threshold uint32, approvers ...common.Address) *domain.Policy {
	block := uint64(100)
	p := &domain.Policy{
		Account: account,
		Key:     key,
		Name:    "test",
		State: &domain.PolicyState{
			Approvers:       approvers,
			Threshold:       threshold,
			Transfers:       domain.TransfersConfig{DefaultAllow: true},
			ActivationBlock: &block,
		},
	}
	env.policies.put(p)
	return p
}

func newSigner(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signHash(t *testing.T, key *ecdsa.PrivateKey, hash common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)
	return sig
}

func payloadFor(p *domain.Proposal) usecase.JobPayload {
	return usecase.JobPayload{ProposalID: p.ID, ChainID: p.ChainID}
}

func nativeTransferOp(to common.Address, amount int64) domain.Operation {
	return domain.Operation{To: to, Value: big.NewInt(amount)}
}
