package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlloPay/accountd/internal/domain"
)

// ScheduledStore is the pgx-backed usecase.ScheduledRepository.
type ScheduledStore struct {
	pool *pgxpool.Pool
}

// NewScheduledStore creates a schedule store over the pool.
func NewScheduledStore(pool *pgxpool.Pool) *ScheduledStore {
	return &ScheduledStore{pool: pool}
}

// Get loads the schedule record for the proposal.
func (s *ScheduledStore) Get(ctx context.Context, proposalID uuid.UUID) (*domain.Scheduled, error) {
	scheduled := domain.Scheduled{ProposalID: proposalID}
	err := s.pool.QueryRow(ctx,
		`SELECT scheduled_for, cancelled FROM scheduled WHERE proposal_id = $1`,
		proposalID,
	).Scan(&scheduled.ScheduledFor, &scheduled.Cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("schedule for proposal %s: %w", proposalID, domain.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return &scheduled, nil
}

// Save upserts the schedule record.
func (s *ScheduledStore) Save(ctx context.Context, scheduled *domain.Scheduled) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled (proposal_id, scheduled_for, cancelled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (proposal_id) DO UPDATE SET
			scheduled_for = EXCLUDED.scheduled_for,
			cancelled = EXCLUDED.cancelled`,
		scheduled.ProposalID, scheduled.ScheduledFor, scheduled.Cancelled)
	return err
}

// Cancel marks the schedule record cancelled; a no-op when none exists.
func (s *ScheduledStore) Cancel(ctx context.Context, proposalID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled SET cancelled = TRUE WHERE proposal_id = $1`,
		proposalID)
	return err
}
