package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlloPay/accountd/internal/domain"
)

// ProposalStore is the pgx-backed usecase.ProposalRepository.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a proposal store over the pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalColumns = `id, kind, account, chain_id, hash, status, proposer, policy_key,
	simulation, operations, nonce, gas_limit, fee_token, max_fee_amount::text, salt, message,
	created_at, updated_at`

// Get loads a proposal by id.
func (s *ProposalStore) Get(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	proposal, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return proposal, err
}

// GetByHash loads a proposal by its content hash.
func (s *ProposalStore) GetByHash(ctx context.Context, hash common.Hash) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE hash = $1`, hash.Bytes())
	proposal, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", hash, domain.ErrNotFound)
	}
	return proposal, err
}

// Save upserts the proposal.
func (s *ProposalStore) Save(ctx context.Context, p *domain.Proposal) error {
	operations, err := json.Marshal(p.Operations)
	if err != nil {
		return err
	}
	var simulation []byte
	if p.Simulation != nil {
		if simulation, err = json.Marshal(p.Simulation); err != nil {
			return err
		}
	}
	var policyKey *int32
	if p.PolicyKey != nil {
		k := int32(*p.PolicyKey)
		policyKey = &k
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposals (id, kind, account, chain_id, hash, status, proposer, policy_key,
			simulation, operations, nonce, gas_limit, fee_token, max_fee_amount, salt, message,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::numeric, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			policy_key = EXCLUDED.policy_key,
			simulation = EXCLUDED.simulation,
			updated_at = EXCLUDED.updated_at`,
		p.ID, string(p.Kind), p.Account.Bytes(), int64(p.ChainID), p.Hash.Bytes(),
		string(p.Status), p.Proposer.Bytes(), policyKey,
		simulation, operations, int64(p.Nonce), int64(p.GasLimit), p.FeeToken.Bytes(),
		numericString(p.MaxFeeAmount), p.Salt[:], p.Message, p.CreatedAt, p.UpdatedAt)
	return err
}

// NextNonce allocates the next unused nonce for the account.
func (s *ProposalStore) NextNonce(ctx context.Context, account common.Address) (uint64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(nonce) + 1, 0) FROM proposals WHERE account = $1 AND kind = $2`,
		account.Bytes(), string(domain.TransactionProposal),
	).Scan(&next)
	if err != nil {
		return 0, err
	}
	return uint64(next), nil
}

// ListPending returns the account's proposals not in a terminal status.
func (s *ProposalStore) ListPending(ctx context.Context, account common.Address) ([]*domain.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals
		 WHERE account = $1 AND status NOT IN ($2, $3)
		 ORDER BY created_at`,
		account.Bytes(), string(domain.ProposalStatusSuccessful), string(domain.ProposalStatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

// ListUnconfirmed returns all proposals lacking a terminal receipt.
func (s *ProposalStore) ListUnconfirmed(ctx context.Context) ([]*domain.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals
		 WHERE status NOT IN ($1, $2)
		 ORDER BY created_at`,
		string(domain.ProposalStatusSuccessful), string(domain.ProposalStatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

// Delete removes the proposal; approvals, transactions and schedules
// cascade.
func (s *ProposalStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	return err
}

func collectProposals(rows pgx.Rows) ([]*domain.Proposal, error) {
	var proposals []*domain.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	return proposals, rows.Err()
}

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var (
		p            domain.Proposal
		kind, status string
		account      []byte
		chainID      int64
		hash         []byte
		proposer     []byte
		policyKey    *int32
		simulation   []byte
		operations   []byte
		nonce        int64
		gasLimit     int64
		feeToken     []byte
		maxFee       *string
		salt         []byte
	)
	err := row.Scan(&p.ID, &kind, &account, &chainID, &hash, &status, &proposer, &policyKey,
		&simulation, &operations, &nonce, &gasLimit, &feeToken, &maxFee, &salt, &p.Message,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Kind = domain.ProposalKind(kind)
	p.Status = domain.ProposalStatus(status)
	p.Account = bytesToAddress(account)
	p.ChainID = uint64(chainID)
	p.Hash = bytesToHash(hash)
	p.Proposer = bytesToAddress(proposer)
	p.Nonce = uint64(nonce)
	p.GasLimit = uint64(gasLimit)
	p.FeeToken = bytesToAddress(feeToken)
	copy(p.Salt[:], salt)

	if policyKey != nil {
		k := domain.PolicyKey(*policyKey)
		p.PolicyKey = &k
	}
	if len(simulation) > 0 {
		p.Simulation = new(domain.Simulation)
		if err := json.Unmarshal(simulation, p.Simulation); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(operations, &p.Operations); err != nil {
		return nil, err
	}
	if maxFee != nil {
		if p.MaxFeeAmount, err = parseNumeric(*maxFee); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
