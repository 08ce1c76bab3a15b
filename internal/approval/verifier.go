// Package approval verifies approver signatures and encodes approval sets
// into the binary structures consumed by the account contract.
package approval

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AlloPay/accountd/internal/domain"
)

// ERC1271Caller performs the read-only isValidSignature call against an
// approver contract.
type ERC1271Caller interface {
	IsValidSignature(ctx context.Context, contract common.Address, hash common.Hash, signature []byte) (bool, error)
}

// Verifier classifies and verifies approval signatures. A signature that
// fails both checks is dropped, not an error: the approval is treated as
// expired and the approver may re-sign.
type Verifier struct {
	caller ERC1271Caller
	log    *slog.Logger
}

// NewVerifier creates a signature verifier.
func NewVerifier(caller ERC1271Caller, log *slog.Logger) *Verifier {
	return &Verifier{
		caller: caller,
		log:    log.With("component", "ApprovalVerifier"),
	}
}

// Verify checks signature over hash for the claimed approver. It returns
// the classified approval, or nil when the signature does not verify.
// Non-nil errors are infrastructure failures (RPC), not invalid signatures.
func (v *Verifier) Verify(ctx context.Context, hash common.Hash, approver common.Address, signature []byte) (*domain.VerifiedApproval, error) {
	if len(signature) == 64 || len(signature) == 65 {
		if recovered, err := recoverSigner(hash, signature); err == nil && recovered == approver {
			return &domain.VerifiedApproval{
				Approver:  approver,
				Signature: signature,
				Type:      domain.SignatureTypeSecp256k1,
			}, nil
		}
	}

	valid, err := v.caller.IsValidSignature(ctx, approver, hash, signature)
	if err != nil {
		return nil, err
	}
	if valid {
		return &domain.VerifiedApproval{
			Approver:  approver,
			Signature: signature,
			Type:      domain.SignatureTypeERC1271,
		}, nil
	}

	v.log.Debug("dropping unverifiable approval", "approver", approver, "hash", hash)
	return nil, nil
}

// VerifyAll verifies a set of approvals concurrently, one goroutine per
// approval so a slow ERC-1271 call never blocks the others. The result
// keeps only approvals that verified; dropped holds the approvers whose
// signatures no longer validate.
func (v *Verifier) VerifyAll(ctx context.Context, hash common.Hash, approvals []domain.Approval) (verified []domain.VerifiedApproval, dropped []common.Address, err error) {
	results := make([]*domain.VerifiedApproval, len(approvals))
	errs := make([]error, len(approvals))

	var wg sync.WaitGroup
	for i, a := range approvals {
		wg.Add(1)
		go func(i int, a domain.Approval) {
			defer wg.Done()
			results[i], errs[i] = v.Verify(ctx, hash, a.Approver, a.Signature)
		}(i, a)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, nil, err
	}

	for i, r := range results {
		if r != nil {
			verified = append(verified, *r)
		} else {
			dropped = append(dropped, approvals[i].Approver)
		}
	}
	return verified, dropped, nil
}

// recoverSigner recovers the signing address from a 65-byte [R||S||V]
// signature or a 64-byte EIP-2098 compact signature.
func recoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	sig := make([]byte, 65)
	switch len(signature) {
	case 65:
		copy(sig, signature)
	case 64:
		// Compact form: vs packs the recovery bit into the top bit of s.
		copy(sig[:32], signature[:32])
		copy(sig[32:64], signature[32:])
		sig[32] &= 0x7f
		if signature[32]&0x80 != 0 {
			sig[64] = 1
		}
	default:
		return common.Address{}, errors.New("invalid signature length")
	}

	// Normalize V from the 27/28 convention.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, errors.New("invalid recovery id")
	}

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// sortAddresses orders addresses by byte value, the canonical order used
// across approval encoding.
func sortAddresses(addrs []common.Address) []common.Address {
	sorted := make([]common.Address, len(addrs))
	copy(sorted, addrs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return sorted
}
