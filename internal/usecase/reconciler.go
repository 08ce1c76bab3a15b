package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/domain"
)

// Reconciler folds confirmed account-contract events back into policy and
// proposal state. Handlers are an explicit dispatch table built at
// startup, not listener registrations hidden in constructors, so each
// handler is unit-testable in isolation.
type Reconciler struct {
	proposals ProposalRepository
	policies  PolicyRepository
	scheduled ScheduledRepository
	attempt   *AttemptExecution
	scheduler JobScheduler
	log       *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a new chain event reconciler.
func NewReconciler(
	proposals ProposalRepository,
	policies PolicyRepository,
	scheduled ScheduledRepository,
	attempt *AttemptExecution,
	scheduler JobScheduler,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		proposals: proposals,
		policies:  policies,
		scheduled: scheduled,
		attempt:   attempt,
		scheduler: scheduler,
		log:       log.With("component", "Reconciler"),
		now:       time.Now,
	}
}

// OnPolicyAdded activates the policy state matching the event's hash as-of
// the event's block, then re-attempts the account's pending proposals:
// transactions blocked awaiting this activation can now execute.
//
// When several policy changes for one account land in the same block they
// activate in (block, txIndex, logIndex) order; the last one wins. Whether
// that matches the contract's own resolution for intra-transaction
// conflicts is undecided, see DESIGN.md.
func (r *Reconciler) OnPolicyAdded(ctx context.Context, event domain.PolicyAddedEvent) error {
	state, err := r.policies.Activate(ctx, event.Account, event.Key, event.Hash, event.Block)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A policy added outside this control plane; nothing to fold in.
			r.log.Info("policy activation for unknown state",
				"account", event.Account, "key", event.Key, "hash", event.Hash)
			return nil
		}
		return err
	}

	r.log.Info("policy activated",
		"account", event.Account, "key", event.Key, "block", event.Block, "state", state.ID)

	return r.retryPending(ctx, event.Account)
}

// OnPolicyRemoved marks the policy removed as-of the event's block.
func (r *Reconciler) OnPolicyRemoved(ctx context.Context, event domain.PolicyRemovedEvent) error {
	if err := r.policies.ActivateRemoval(ctx, event.Account, event.Key, event.Block); err != nil {
		return err
	}
	r.log.Info("policy removed", "account", event.Account, "key", event.Key, "block", event.Block)
	return r.retryPending(ctx, event.Account)
}

// OnScheduled records the schedule and submits the delayed job DAG that
// fires at the scheduled time.
func (r *Reconciler) OnScheduled(ctx context.Context, event domain.ScheduledEvent) error {
	proposal, err := r.proposals.GetByHash(ctx, event.ProposalHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Info("scheduled event for unknown proposal", "hash", event.ProposalHash)
			return nil
		}
		return err
	}

	if err := r.scheduled.Save(ctx, &domain.Scheduled{
		ProposalID:   proposal.ID,
		ScheduledFor: event.Timestamp,
	}); err != nil {
		return err
	}

	if proposal.CanTransition(domain.ProposalStatusScheduled) {
		proposal.Status = domain.ProposalStatusScheduled
		proposal.UpdatedAt = r.now()
		if err := r.proposals.Save(ctx, proposal); err != nil {
			return err
		}
	}

	r.log.Info("proposal scheduled", "proposal", proposal.ID, "for", event.Timestamp)
	return r.scheduler.SubmitFlow(ctx, ScheduledFlow(proposal, event.Timestamp, r.now()))
}

// OnScheduleCancelled closes the schedule record and removes the pending
// execution job; a no-op if the job already ran.
func (r *Reconciler) OnScheduleCancelled(ctx context.Context, event domain.ScheduleCancelledEvent) error {
	proposal, err := r.proposals.GetByHash(ctx, event.ProposalHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := r.scheduled.Cancel(ctx, proposal.ID); err != nil {
		return err
	}

	for _, queue := range []Queue{QueueSimulations, QueueExecutions} {
		if err := r.scheduler.Remove(ctx, JobID(queue, proposal.ID)); err != nil {
			return err
		}
	}

	if proposal.Status == domain.ProposalStatusScheduled {
		proposal.Status = domain.ProposalStatusFailed
		proposal.UpdatedAt = r.now()
		if err := r.proposals.Save(ctx, proposal); err != nil {
			return err
		}
	}

	r.log.Info("schedule cancelled", "proposal", proposal.ID)
	return nil
}

// retryPending re-attempts execution of the account's pending proposals,
// unblocking any that were waiting on a policy activation.
func (r *Reconciler) retryPending(ctx context.Context, account common.Address) error {
	pending, err := r.proposals.ListPending(ctx, account)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := r.attempt.Run(ctx, p); err != nil {
			r.log.Warn("retry after activation failed", "proposal", p.ID, "err", err)
		}
	}
	return nil
}

// Handler dispatches one decoded event to its reconciler method.
type Handler func(ctx context.Context, event any) error

// Handlers builds the dispatch table from event name to handler. The
// table is constructed once at startup and handed to the log consumer.
func (r *Reconciler) Handlers() map[string]Handler {
	return map[string]Handler{
		"PolicyAdded": func(ctx context.Context, event any) error {
			return r.OnPolicyAdded(ctx, event.(domain.PolicyAddedEvent))
		},
		"PolicyRemoved": func(ctx context.Context, event any) error {
			return r.OnPolicyRemoved(ctx, event.(domain.PolicyRemovedEvent))
		},
		"Scheduled": func(ctx context.Context, event any) error {
			return r.OnScheduled(ctx, event.(domain.ScheduledEvent))
		},
		"ScheduleCancelled": func(ctx context.Context, event any) error {
			return r.OnScheduleCancelled(ctx, event.(domain.ScheduleCancelledEvent))
		},
	}
}
