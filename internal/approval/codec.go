package approval

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AlloPay/accountd/internal/domain"
)

// On-chain tuple layouts. Field names follow the ABI component names so
// the abi package can map them during pack/unpack.

type policyTuple struct {
	Key           uint16
	Approvers     []common.Address
	Threshold     uint32
	Actions       []actionTuple
	Transfers     transfersTuple
	AllowMessages bool
	Delay         uint32
}

type actionTuple struct {
	Allow     bool
	Functions []functionTuple
}

type functionTuple struct {
	Addr        common.Address
	Selector    [4]byte
	AnyAddr     bool
	AnySelector bool
}

type transfersTuple struct {
	DefaultAllow bool
	Budget       uint32
	Limits       []limitTuple
}

type limitTuple struct {
	Token    common.Address
	Amount   *big.Int
	Duration uint32
}

type approvalsTuple struct {
	ApproversSigned *big.Int
	Secp256k1       []CompactSignature
	Erc1271         [][]byte
}

type operationTuple struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

var (
	functionComponents = []abi.ArgumentMarshaling{
		{Name: "addr", Type: "address"},
		{Name: "selector", Type: "bytes4"},
		{Name: "anyAddr", Type: "bool"},
		{Name: "anySelector", Type: "bool"},
	}

	policyType = mustNewType("tuple", []abi.ArgumentMarshaling{
		{Name: "key", Type: "uint16"},
		{Name: "approvers", Type: "address[]"},
		{Name: "threshold", Type: "uint32"},
		{Name: "actions", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "allow", Type: "bool"},
			{Name: "functions", Type: "tuple[]", Components: functionComponents},
		}},
		{Name: "transfers", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "defaultAllow", Type: "bool"},
			{Name: "budget", Type: "uint32"},
			{Name: "limits", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "duration", Type: "uint32"},
			}},
		}},
		{Name: "allowMessages", Type: "bool"},
		{Name: "delay", Type: "uint32"},
	})

	approvalsType = mustNewType("tuple", []abi.ArgumentMarshaling{
		{Name: "approversSigned", Type: "uint256"},
		{Name: "secp256k1", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "r", Type: "bytes32"},
			{Name: "vs", Type: "bytes32"},
		}},
		{Name: "erc1271", Type: "bytes[]"},
	})

	operationsType = mustNewType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	})

	uint32Type  = mustNewType("uint32", nil)
	uint64Type  = mustNewType("uint64", nil)
	uint256Type = mustNewType("uint256", nil)
	addressType = mustNewType("address", nil)
	bytes32Type = mustNewType("bytes32", nil)

	policyArgs    = abi.Arguments{{Type: policyType}}
	executionArgs = abi.Arguments{{Type: uint32Type}, {Type: policyType}, {Type: approvalsType}}
	txHashArgs    = abi.Arguments{
		{Type: addressType}, {Type: uint256Type}, {Type: uint64Type},
		{Type: bytes32Type}, {Type: operationsType},
	}
	messageHashArgs = abi.Arguments{{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}}
)

func mustNewType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodePolicy ABI-encodes a policy state as the struct passed to the
// account contract's addPolicy function.
func EncodePolicy(key domain.PolicyKey, state *domain.PolicyState) ([]byte, error) {
	return policyArgs.Pack(toPolicyTuple(key, state))
}

// PolicyHash is the keccak256 of the encoded policy struct, matching the
// hash carried by PolicyAdded events.
func PolicyHash(key domain.PolicyKey, state *domain.PolicyState) (common.Hash, error) {
	encoded, err := EncodePolicy(key, state)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// DecodePolicy decodes an addPolicy struct back into a policy state.
func DecodePolicy(data []byte) (domain.PolicyKey, *domain.PolicyState, error) {
	values, err := policyArgs.Unpack(data)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack policy: %w", err)
	}
	tuple := *abi.ConvertType(values[0], new(policyTuple)).(*policyTuple)
	key, state := fromPolicyTuple(tuple)
	return key, state, nil
}

// EncodeExecution produces the custom signature blob attached to the
// execution call: abi.encode(uint32 nonce, PolicyStruct, ApprovalsStruct).
func EncodeExecution(nonce uint32, key domain.PolicyKey, state *domain.PolicyState, approvals *ApprovalsStruct) ([]byte, error) {
	return executionArgs.Pack(nonce, toPolicyTuple(key, state), approvalsTuple{
		ApproversSigned: approvals.ApproversSigned,
		Secp256k1:       approvals.Secp256k1,
		Erc1271:         approvals.Erc1271,
	})
}

// ProposalHash computes the deterministic content hash approvers sign.
// Transaction proposals hash over (account, chain, nonce, salt,
// operations); message proposals over (account, chain, keccak(message)).
func ProposalHash(p *domain.Proposal) (common.Hash, error) {
	chainID := new(big.Int).SetUint64(p.ChainID)

	if p.Kind == domain.MessageProposal {
		encoded, err := messageHashArgs.Pack(p.Account, chainID, crypto.Keccak256Hash(p.Message))
		if err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(encoded), nil
	}

	ops := make([]operationTuple, len(p.Operations))
	for i, op := range p.Operations {
		value := op.Value
		if value == nil {
			value = new(big.Int)
		}
		ops[i] = operationTuple{To: op.To, Value: value, Data: op.Data}
	}

	encoded, err := txHashArgs.Pack(p.Account, chainID, p.Nonce, p.Salt, ops)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func toPolicyTuple(key domain.PolicyKey, state *domain.PolicyState) policyTuple {
	actions := make([]actionTuple, len(state.Actions))
	for i, action := range state.Actions {
		functions := make([]functionTuple, len(action.Functions))
		for j, fn := range action.Functions {
			t := functionTuple{AnyAddr: fn.Contract == nil, AnySelector: fn.Selector == nil}
			if fn.Contract != nil {
				t.Addr = *fn.Contract
			}
			if fn.Selector != nil {
				t.Selector = *fn.Selector
			}
			functions[j] = t
		}
		actions[i] = actionTuple{Allow: action.Allow, Functions: functions}
	}

	limits := make([]limitTuple, len(state.Transfers.Limits))
	for i, limit := range state.Transfers.Limits {
		limits[i] = limitTuple{
			Token:    limit.Token,
			Amount:   limit.Amount,
			Duration: uint32(limit.Duration.Seconds()),
		}
	}

	return policyTuple{
		Key:       uint16(key),
		Approvers: sortAddresses(state.Approvers),
		Threshold: state.Threshold,
		Actions:   actions,
		Transfers: transfersTuple{
			DefaultAllow: state.Transfers.DefaultAllow,
			Budget:       state.Transfers.Budget,
			Limits:       limits,
		},
		AllowMessages: state.AllowMessages,
		Delay:         uint32(state.Delay.Seconds()),
	}
}

func fromPolicyTuple(t policyTuple) (domain.PolicyKey, *domain.PolicyState) {
	actions := make([]domain.Action, len(t.Actions))
	for i, action := range t.Actions {
		functions := make([]domain.ActionFunction, len(action.Functions))
		for j, fn := range action.Functions {
			var f domain.ActionFunction
			if !fn.AnyAddr {
				addr := fn.Addr
				f.Contract = &addr
			}
			if !fn.AnySelector {
				selector := domain.Selector(fn.Selector)
				f.Selector = &selector
			}
			functions[j] = f
		}
		actions[i] = domain.Action{Allow: action.Allow, Functions: functions}
	}

	limits := make([]domain.TransferLimit, len(t.Transfers.Limits))
	for i, limit := range t.Transfers.Limits {
		limits[i] = domain.TransferLimit{
			Token:    limit.Token,
			Amount:   limit.Amount,
			Duration: time.Duration(limit.Duration) * time.Second,
		}
	}

	return domain.PolicyKey(t.Key), &domain.PolicyState{
		Approvers: t.Approvers,
		Threshold: t.Threshold,
		Actions:   actions,
		Transfers: domain.TransfersConfig{
			DefaultAllow: t.Transfers.DefaultAllow,
			Budget:       t.Transfers.Budget,
			Limits:       limits,
		},
		AllowMessages: t.AllowMessages,
		Delay:         time.Duration(t.Delay) * time.Second,
	}
}
