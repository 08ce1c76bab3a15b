package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// accountABIJSON covers the account-contract surface this service touches:
// the execute entrypoint, ERC-1271 validation, and the lifecycle events the
// reconciler folds back into state.
const accountABIJSON = `[
	{
		"type": "function",
		"name": "execute",
		"stateMutability": "payable",
		"inputs": [
			{
				"name": "operations",
				"type": "tuple[]",
				"components": [
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "data", "type": "bytes"}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "responses", "type": "bytes[]"}]
	},
	{
		"type": "function",
		"name": "isValidSignature",
		"stateMutability": "view",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "magicValue", "type": "bytes4"}]
	},
	{
		"type": "event",
		"name": "PolicyAdded",
		"inputs": [
			{"name": "key", "type": "uint16", "indexed": false},
			{"name": "hash", "type": "bytes32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PolicyRemoved",
		"inputs": [
			{"name": "key", "type": "uint16", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "Scheduled",
		"inputs": [
			{"name": "proposal", "type": "bytes32", "indexed": false},
			{"name": "timestamp", "type": "uint64", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ScheduleCancelled",
		"inputs": [
			{"name": "proposal", "type": "bytes32", "indexed": false}
		]
	}
]`

var accountABI = mustParseABI(accountABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// erc1271Magic is the isValidSignature success return value.
var erc1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}
