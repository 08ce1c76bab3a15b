package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SignatureType classifies how an approval signature validates.
type SignatureType string

const (
	// SignatureTypeSecp256k1 is a 64/65-byte ECDSA signature recoverable
	// to the approver address.
	SignatureTypeSecp256k1 SignatureType = "SECP256K1"
	// SignatureTypeERC1271 validates through the approver contract's
	// isValidSignature call.
	SignatureTypeERC1271 SignatureType = "ERC1271"
)

// Approval is one approver's signature over a proposal hash. At most one
// approval exists per (proposal, approver).
type Approval struct {
	ProposalID uuid.UUID      `json:"proposalId"`
	Approver   common.Address `json:"approver"`
	Signature  []byte         `json:"signature"`

	// Invalid marks an approval whose signature no longer verifies
	// (e.g. ERC-1271 approver state changed after collection).
	Invalid bool `json:"invalid"`

	CreatedAt time.Time `json:"createdAt"`
}

// VerifiedApproval is an approval that passed signature verification,
// tagged with its classification.
type VerifiedApproval struct {
	Approver  common.Address
	Signature []byte
	Type      SignatureType
}
