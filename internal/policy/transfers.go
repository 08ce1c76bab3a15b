package policy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/domain"
)

// erc20TransferSelector is the selector of transfer(address,uint256).
var erc20TransferSelector = domain.Selector{0xa9, 0x05, 0x9c, 0xbb}

// ProposedTransfer is an outgoing token movement implied by one operation.
// The zero token address denotes the native token.
type ProposedTransfer struct {
	OpIndex int
	Token   common.Address
	To      common.Address
	Amount  *big.Int
}

// transferOf recognizes an operation as an outgoing transfer: either a
// plain value transfer, or an ERC-20 transfer(address,uint256) call.
func transferOf(op domain.Operation) (ProposedTransfer, bool) {
	if op.IsValueTransfer() {
		return ProposedTransfer{
			To:     op.To,
			Amount: op.Value,
		}, true
	}

	selector, ok := domain.SelectorOf(op.Data)
	if !ok || selector != erc20TransferSelector {
		return ProposedTransfer{}, false
	}
	// transfer(address to, uint256 amount): 4-byte selector + two 32-byte words.
	if len(op.Data) != 4+32+32 {
		return ProposedTransfer{}, false
	}
	return ProposedTransfer{
		Token:  op.To,
		To:     common.BytesToAddress(op.Data[4+12 : 4+32]),
		Amount: new(big.Int).SetBytes(op.Data[4+32 : 4+64]),
	}, true
}

// Transfers extracts every recognized outgoing transfer from a transaction
// proposal, tagged with the operation index it came from.
func Transfers(proposal *domain.Proposal) []ProposedTransfer {
	var transfers []ProposedTransfer
	for i, op := range proposal.Operations {
		if t, ok := transferOf(op); ok {
			t.OpIndex = i
			transfers = append(transfers, t)
		}
	}
	return transfers
}
