package usecase_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

func TestProposePolicy_AllocatesAutoKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, approver := newSigner(t)
	account := common.HexToAddress("0x000000000000000000000000000000000000a001")
	state := &domain.PolicyState{Approvers: []common.Address{approver}, Threshold: 1}

	first, err := env.propose.Run(ctx, usecase.ProposePolicyParams{
		Account: account,
		Name:    "spending",
		State:   state,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FirstAutoPolicyKey, first)

	second, err := env.propose.Run(ctx, usecase.ProposePolicyParams{
		Account: account,
		Name:    "recovery",
		State:   state,
	})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	p, err := env.policies.Get(ctx, account, first)
	require.NoError(t, err)
	assert.Equal(t, "spending", p.Name)
	require.NotNil(t, p.Draft)
	assert.Nil(t, p.ActiveState())
}

func TestProposePolicy_PinnedKeyMustBeManual(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, approver := newSigner(t)
	account := common.HexToAddress("0x000000000000000000000000000000000000a002")
	state := &domain.PolicyState{Approvers: []common.Address{approver}, Threshold: 1}

	pinned := domain.PolicyKey(3)
	key, err := env.propose.Run(ctx, usecase.ProposePolicyParams{
		Account: account,
		Name:    "admin",
		Key:     &pinned,
		State:   state,
	})
	require.NoError(t, err)
	assert.Equal(t, pinned, key)

	tooHigh := domain.FirstAutoPolicyKey
	_, err = env.propose.Run(ctx, usecase.ProposePolicyParams{
		Account: account,
		Name:    "admin",
		Key:     &tooHigh,
		State:   state,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestProposePolicy_RejectsInvalidStates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, approver := newSigner(t)
	account := common.HexToAddress("0x000000000000000000000000000000000000a003")

	cases := []struct {
		name  string
		state *domain.PolicyState
	}{
		{"no approvers", &domain.PolicyState{Threshold: 1}},
		{"zero threshold", &domain.PolicyState{Approvers: []common.Address{approver}}},
		{"threshold above approvers", &domain.PolicyState{
			Approvers: []common.Address{approver},
			Threshold: 2,
		}},
		{"action without functions", &domain.PolicyState{
			Approvers: []common.Address{approver},
			Threshold: 1,
			Actions:   []domain.Action{{Label: "empty", Allow: true}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.propose.Run(ctx, usecase.ProposePolicyParams{
				Account: account,
				Name:    "bad",
				State:   tc.state,
			})
			assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
		})
	}
}

func TestProposePolicy_DraftActivatesOnChainEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, approver := newSigner(t)
	account := common.HexToAddress("0x000000000000000000000000000000000000a004")

	key, err := env.propose.Run(ctx, usecase.ProposePolicyParams{
		Account: account,
		Name:    "spending",
		State:   &domain.PolicyState{Approvers: []common.Address{approver}, Threshold: 1},
	})
	require.NoError(t, err)

	require.NoError(t, env.reconciler.OnPolicyAdded(ctx, domain.PolicyAddedEvent{
		EventMeta: domain.EventMeta{Account: account, Block: 150},
		Key:       key,
	}))

	p, err := env.policies.Get(ctx, account, key)
	require.NoError(t, err)
	require.NotNil(t, p.ActiveState())
	assert.Nil(t, p.Draft)
}
