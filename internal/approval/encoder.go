package approval

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/domain"
)

// ApprovalsStruct is the on-chain approvals structure: a bitfield of which
// approvers signed (bit i corresponds to the i-th approver in canonical
// address order) plus the signatures themselves, partitioned by type and
// sorted by approver address ascending.
type ApprovalsStruct struct {
	ApproversSigned *big.Int
	Secp256k1       []CompactSignature
	Erc1271         [][]byte
}

// CompactSignature is the EIP-2098 {r, vs} form of a secp256k1 signature.
type CompactSignature struct {
	R  [32]byte
	Vs [32]byte
}

// BuildApprovals canonically orders the policy's approver set and the
// verified approvals into the ApprovalsStruct. The output is fully
// deterministic: identical inputs encode to identical bytes regardless of
// input ordering.
func BuildApprovals(approvals []domain.VerifiedApproval, approvers []common.Address) (*ApprovalsStruct, error) {
	sorted := sortAddresses(approvers)

	index := make(map[common.Address]int, len(sorted))
	for i, a := range sorted {
		index[a] = i
	}

	out := &ApprovalsStruct{ApproversSigned: new(big.Int)}

	byApprover := make([]domain.VerifiedApproval, len(approvals))
	copy(byApprover, approvals)
	sort.Slice(byApprover, func(i, j int) bool {
		return bytes.Compare(byApprover[i].Approver[:], byApprover[j].Approver[:]) < 0
	})

	for _, approval := range byApprover {
		i, ok := index[approval.Approver]
		if !ok {
			return nil, fmt.Errorf("approver %s not in policy approver set", approval.Approver)
		}
		if out.ApproversSigned.Bit(i) == 1 {
			return nil, fmt.Errorf("duplicate approval from %s", approval.Approver)
		}
		out.ApproversSigned.SetBit(out.ApproversSigned, i, 1)

		switch approval.Type {
		case domain.SignatureTypeSecp256k1:
			compact, err := compactSignature(approval.Signature)
			if err != nil {
				return nil, fmt.Errorf("approval from %s: %w", approval.Approver, err)
			}
			out.Secp256k1 = append(out.Secp256k1, compact)
		case domain.SignatureTypeERC1271:
			out.Erc1271 = append(out.Erc1271, approval.Signature)
		default:
			return nil, fmt.Errorf("approval from %s: unknown signature type %q", approval.Approver, approval.Type)
		}
	}

	return out, nil
}

// compactSignature converts a signature to EIP-2098 compact form. 64-byte
// signatures are taken as already compact.
func compactSignature(signature []byte) (CompactSignature, error) {
	var c CompactSignature
	switch len(signature) {
	case 64:
		copy(c.R[:], signature[:32])
		copy(c.Vs[:], signature[32:])
	case 65:
		copy(c.R[:], signature[:32])
		copy(c.Vs[:], signature[32:64])
		v := signature[64]
		if v >= 27 {
			v -= 27
		}
		if v > 1 {
			return c, fmt.Errorf("invalid recovery id %d", signature[64])
		}
		c.Vs[0] |= v << 7
	default:
		return c, fmt.Errorf("invalid signature length %d", len(signature))
	}
	return c, nil
}
