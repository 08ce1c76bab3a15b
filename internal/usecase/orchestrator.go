package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlloPay/accountd/internal/domain"
)

// JobID derives the job id for a queue and proposal. Ids are stable so a
// second enqueue of the same work is a no-op, preventing duplicate
// concurrent execution attempts for one proposal.
func JobID(queue Queue, proposalID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", queue, proposalID)
}

func newJob(queue Queue, p *domain.Proposal) Job {
	return Job{
		ID:    JobID(queue, p.ID),
		Queue: queue,
		Payload: JobPayload{
			ProposalID: p.ID,
			ChainID:    p.ChainID,
		},
	}
}

// SimulationJob builds the simulation job for a proposal.
func SimulationJob(p *domain.Proposal) Job { return newJob(QueueSimulations, p) }

// ExecutionJob builds the execution job for a proposal.
func ExecutionJob(p *domain.Proposal) Job { return newJob(QueueExecutions, p) }

// ConfirmationJob builds the confirmation job for a proposal.
func ConfirmationJob(p *domain.Proposal) Job { return newJob(QueueConfirmations, p) }

// ScheduledFlow builds the job DAG for a scheduled transaction:
// confirmation at the root, execution beneath it, and the simulation leaf
// delayed until the scheduled time. Leaves run first, so the chain fires
// simulate -> execute -> confirm starting at scheduledFor.
func ScheduledFlow(p *domain.Proposal, scheduledFor, now time.Time) Flow {
	simulate := SimulationJob(p)
	if delay := scheduledFor.Sub(now); delay > 0 {
		simulate.Delay = delay
	}

	return Flow{
		Job: ConfirmationJob(p),
		Children: []Flow{{
			Job:      ExecutionJob(p),
			Children: []Flow{{Job: simulate}},
		}},
	}
}
