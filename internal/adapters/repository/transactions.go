package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlloPay/accountd/internal/domain"
)

// TransactionStore is the pgx-backed usecase.TransactionRepository. Its
// TotalSpent query doubles as the policy engine's spending reader.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a transaction store over the pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Save records the submitted system transaction.
func (s *TransactionStore) Save(ctx context.Context, tx *domain.SystemTx) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_txs (id, proposal_id, hash, chain_id, policy_key, gas_price, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		 ON CONFLICT (proposal_id) DO UPDATE SET
			hash = EXCLUDED.hash,
			gas_price = EXCLUDED.gas_price,
			submitted_at = EXCLUDED.submitted_at`,
		tx.ID, tx.ProposalID, tx.Hash.Bytes(), int64(tx.ChainID), int32(tx.PolicyKey),
		numericString(tx.GasPrice), tx.SubmittedAt)
	return err
}

// GetByProposal loads the system transaction submitted for the proposal.
func (s *TransactionStore) GetByProposal(ctx context.Context, proposalID uuid.UUID) (*domain.SystemTx, error) {
	var (
		tx       domain.SystemTx
		hash     []byte
		chainID  int64
		key      int32
		gasPrice *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, hash, chain_id, policy_key, gas_price::text, submitted_at
		 FROM system_txs WHERE proposal_id = $1`,
		proposalID,
	).Scan(&tx.ID, &hash, &chainID, &key, &gasPrice, &tx.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction for proposal %s: %w", proposalID, domain.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	tx.ProposalID = proposalID
	tx.Hash = bytesToHash(hash)
	tx.ChainID = uint64(chainID)
	tx.PolicyKey = domain.PolicyKey(key)
	if gasPrice != nil {
		if tx.GasPrice, err = parseNumeric(*gasPrice); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

// SaveReceipt records the confirmed receipt of a system transaction.
func (s *TransactionStore) SaveReceipt(ctx context.Context, receipt *domain.Receipt) error {
	var responses []byte
	if receipt.Responses != nil {
		var err error
		if responses, err = json.Marshal(receipt.Responses); err != nil {
			return err
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO receipts (tx_hash, success, gas_used, block, timestamp, responses, revert_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tx_hash) DO NOTHING`,
		receipt.TxHash.Bytes(), receipt.Success, int64(receipt.GasUsed), int64(receipt.Block),
		receipt.Timestamp, responses, receipt.RevertReason)
	return err
}

// RecordTransfers appends the transfers extracted from a confirmed
// transaction to the spending ledger.
func (s *TransactionStore) RecordTransfers(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Re-confirming the same proposal must not double-count its spending.
	if _, err := tx.Exec(ctx,
		`DELETE FROM transfers WHERE proposal_id = $1`,
		transfers[0].ProposalID); err != nil {
		return err
	}

	for _, t := range transfers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transfers (proposal_id, account, policy_key, token, to_address, amount, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)`,
			t.ProposalID, t.Account.Bytes(), int32(t.PolicyKey), t.Token.Bytes(),
			t.To.Bytes(), t.Amount.String(), t.Timestamp); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// TotalSpent sums confirmed outgoing transfers of token under the policy
// within the trailing window starting at since.
func (s *TransactionStore) TotalSpent(ctx context.Context, account common.Address, key domain.PolicyKey, token common.Address, since time.Time) (*big.Int, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM transfers
		 WHERE account = $1 AND policy_key = $2 AND token = $3 AND timestamp >= $4`,
		account.Bytes(), int32(key), token.Bytes(), since,
	).Scan(&total)
	if err != nil {
		return nil, err
	}
	return parseNumeric(total)
}
