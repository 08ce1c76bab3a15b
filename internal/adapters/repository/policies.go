package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlloPay/accountd/internal/approval"
	"github.com/AlloPay/accountd/internal/domain"
)

// PolicyStore is the pgx-backed usecase.PolicyRepository.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a policy store over the pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// stateContent is the jsonb payload of a policy state. Lifecycle fields
// live in dedicated columns; the rule content lives here.
type stateContent struct {
	Approvers     []common.Address       `json:"approvers"`
	Threshold     uint32                 `json:"threshold"`
	Actions       []domain.Action        `json:"actions"`
	Transfers     domain.TransfersConfig `json:"transfers"`
	AllowMessages bool                   `json:"allowMessages"`
	Delay         time.Duration          `json:"delay"`
}

func contentOf(s *domain.PolicyState) stateContent {
	return stateContent{
		Approvers:     s.Approvers,
		Threshold:     s.Threshold,
		Actions:       s.Actions,
		Transfers:     s.Transfers,
		AllowMessages: s.AllowMessages,
		Delay:         s.Delay,
	}
}

func (c stateContent) apply(s *domain.PolicyState) {
	s.Approvers = c.Approvers
	s.Threshold = c.Threshold
	s.Actions = c.Actions
	s.Transfers = c.Transfers
	s.AllowMessages = c.AllowMessages
	s.Delay = c.Delay
}

// Get loads the policy and resolves its current State and Draft from the
// stored state rows.
func (s *PolicyStore) Get(ctx context.Context, account common.Address, key domain.PolicyKey) (*domain.Policy, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT name FROM policies WHERE account = $1 AND key = $2`,
		account.Bytes(), int32(key),
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("policy %d of %s: %w", key, account, domain.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	policy := &domain.Policy{Account: account, Key: key, Name: name}
	if err := s.resolveStates(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// ListByAccount loads all policies of the account with their states.
func (s *PolicyStore) ListByAccount(ctx context.Context, account common.Address) ([]*domain.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, name FROM policies WHERE account = $1 ORDER BY key`,
		account.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.Policy
	for rows.Next() {
		var key int32
		var name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, err
		}
		policies = append(policies, &domain.Policy{
			Account: account,
			Key:     domain.PolicyKey(key),
			Name:    name,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, policy := range policies {
		if err := s.resolveStates(ctx, policy); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// resolveStates fills State (the activated state with the highest
// activation block) and Draft (the newest unactivated state).
func (s *PolicyStore) resolveStates(ctx context.Context, policy *domain.Policy) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, activation_block, proposal_id, removed, created_at
		 FROM policy_states
		 WHERE account = $1 AND key = $2
		 ORDER BY activation_block DESC NULLS LAST, created_at DESC`,
		policy.Account.Bytes(), int32(policy.Key))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return err
		}
		switch {
		case state.ActivationBlock != nil && policy.State == nil:
			policy.State = state
		case state.ActivationBlock == nil && policy.Draft == nil:
			policy.Draft = state
		}
	}
	return rows.Err()
}

func scanState(row pgx.Row) (*domain.PolicyState, error) {
	var (
		state      domain.PolicyState
		content    []byte
		block      *int64
		proposalID *uuid.UUID
	)
	if err := row.Scan(&state.ID, &content, &block, &proposalID, &state.Removed, &state.CreatedAt); err != nil {
		return nil, err
	}

	var c stateContent
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, err
	}
	c.apply(&state)

	if block != nil {
		b := uint64(*block)
		state.ActivationBlock = &b
	}
	state.ProposalID = proposalID
	return &state, nil
}

// NextKey allocates the next auto-assigned key for the account.
func (s *PolicyStore) NextKey(ctx context.Context, account common.Address) (domain.PolicyKey, error) {
	var next int32
	err := s.pool.QueryRow(ctx,
		`SELECT GREATEST(COALESCE(MAX(key) + 1, 0), $2) FROM policies WHERE account = $1`,
		account.Bytes(), int32(domain.FirstAutoPolicyKey),
	).Scan(&next)
	if err != nil {
		return 0, err
	}
	return domain.PolicyKey(next), nil
}

// SaveDraft upserts a draft state for (account, key). When an unactivated
// state with the same hash already exists the existing row wins and the
// draft's ID is updated to match it.
func (s *PolicyStore) SaveDraft(ctx context.Context, account common.Address, key domain.PolicyKey, name string, draft *domain.PolicyState) error {
	hash, err := approval.PolicyHash(key, draft)
	if err != nil {
		return fmt.Errorf("hash policy state: %w", err)
	}

	content, err := json.Marshal(contentOf(draft))
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO policies (account, key, name) VALUES ($1, $2, $3)
		 ON CONFLICT (account, key) DO UPDATE SET name = EXCLUDED.name`,
		account.Bytes(), int32(key), name); err != nil {
		return err
	}

	var existing uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM policy_states
		 WHERE account = $1 AND key = $2 AND hash = $3 AND activation_block IS NULL`,
		account.Bytes(), int32(key), hash.Bytes(),
	).Scan(&existing)
	switch {
	case err == nil:
		draft.ID = existing
	case errors.Is(err, pgx.ErrNoRows):
		if draft.ID == uuid.Nil {
			draft.ID = uuid.New()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO policy_states (id, account, key, hash, content, proposal_id, removed, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			draft.ID, account.Bytes(), int32(key), hash.Bytes(), content,
			draft.ProposalID, draft.Removed, draft.CreatedAt); err != nil {
			return err
		}
	default:
		return err
	}

	return tx.Commit(ctx)
}

// Activate marks the state matching hash as activated as-of block. An
// already-activated state with that hash is returned unchanged so event
// redelivery stays idempotent.
func (s *PolicyStore) Activate(ctx context.Context, account common.Address, key domain.PolicyKey, hash common.Hash, block uint64) (*domain.PolicyState, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE policy_states SET activation_block = $4
		 WHERE account = $1 AND key = $2 AND hash = $3 AND activation_block IS NULL
		 RETURNING id, content, activation_block, proposal_id, removed, created_at`,
		account.Bytes(), int32(key), hash.Bytes(), int64(block))

	state, err := scanState(row)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	row = s.pool.QueryRow(ctx,
		`SELECT id, content, activation_block, proposal_id, removed, created_at
		 FROM policy_states
		 WHERE account = $1 AND key = $2 AND hash = $3`,
		account.Bytes(), int32(key), hash.Bytes())
	state, err = scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("policy state %s: %w", hash, domain.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return state, nil
}

// ActivateRemoval marks the policy removed as-of block, creating a removal
// state when none was drafted through this control plane.
func (s *PolicyStore) ActivateRemoval(ctx context.Context, account common.Address, key domain.PolicyKey, block uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_states SET activation_block = $3
		 WHERE account = $1 AND key = $2 AND removed AND activation_block IS NULL`,
		account.Bytes(), int32(key), int64(block))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO policies (account, key) VALUES ($1, $2) ON CONFLICT (account, key) DO NOTHING`,
		account.Bytes(), int32(key)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO policy_states (id, account, key, hash, content, activation_block, removed, created_at)
		 VALUES ($1, $2, $3, $4, '{}', $5, TRUE, NOW())`,
		uuid.New(), account.Bytes(), int32(key), common.Hash{}.Bytes(), int64(block)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteCreatedBy removes draft states created by the proposal, then any
// policies left without states.
func (s *PolicyStore) DeleteCreatedBy(ctx context.Context, proposalID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM policy_states WHERE proposal_id = $1 AND activation_block IS NULL`,
		proposalID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM policies p
		 WHERE NOT EXISTS (
			SELECT 1 FROM policy_states s WHERE s.account = p.account AND s.key = p.key
		 )`); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
