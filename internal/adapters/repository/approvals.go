package repository

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlloPay/accountd/internal/domain"
)

// ApprovalStore is the pgx-backed usecase.ApprovalRepository.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

// NewApprovalStore creates an approval store over the pool.
func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

// ListByProposal returns all approvals collected for the proposal.
func (s *ApprovalStore) ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]domain.Approval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT approver, signature, invalid, created_at
		 FROM approvals WHERE proposal_id = $1
		 ORDER BY created_at`,
		proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		approval := domain.Approval{ProposalID: proposalID}
		var approver []byte
		if err := rows.Scan(&approver, &approval.Signature, &approval.Invalid, &approval.CreatedAt); err != nil {
			return nil, err
		}
		approval.Approver = bytesToAddress(approver)
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// Put upserts the unique (proposal, approver) approval. A re-submitted
// signature replaces the old one and clears any invalid mark.
func (s *ApprovalStore) Put(ctx context.Context, approval domain.Approval) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approvals (proposal_id, approver, signature, invalid, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (proposal_id, approver) DO UPDATE SET
			signature = EXCLUDED.signature,
			invalid = FALSE,
			created_at = EXCLUDED.created_at`,
		approval.ProposalID, approval.Approver.Bytes(), approval.Signature,
		approval.Invalid, approval.CreatedAt)
	return err
}

// MarkInvalid flags the approval as no longer verifying.
func (s *ApprovalStore) MarkInvalid(ctx context.Context, proposalID uuid.UUID, approver common.Address) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE approvals SET invalid = TRUE WHERE proposal_id = $1 AND approver = $2`,
		proposalID, approver.Bytes())
	return err
}
