package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AlloPay/accountd/internal/usecase"
)

func testJob(queue usecase.Queue, id uuid.UUID) usecase.Job {
	return usecase.Job{
		ID:      string(queue) + ":" + id.String(),
		Queue:   queue,
		Payload: usecase.JobPayload{ProposalID: id, ChainID: 31337},
	}
}

func TestMemoryScheduler_EnqueueIsIdempotent(t *testing.T) {
	s := NewMemoryScheduler()
	job := testJob(usecase.QueueSimulations, uuid.New())

	require.NoError(t, s.Enqueue(context.Background(), job))
	require.NoError(t, s.Enqueue(context.Background(), job))

	require.Len(t, s.Jobs(), 1)
	require.True(t, s.Has(job.ID))
}

func TestMemoryScheduler_SubmitFlowRecordsOnlyTheRoot(t *testing.T) {
	s := NewMemoryScheduler()
	id := uuid.New()
	leaf := testJob(usecase.QueueSimulations, id)
	leaf.Delay = time.Minute
	flow := usecase.Flow{
		Job: testJob(usecase.QueueConfirmations, id),
		Children: []usecase.Flow{{
			Job:      testJob(usecase.QueueExecutions, id),
			Children: []usecase.Flow{{Job: leaf}},
		}},
	}

	require.NoError(t, s.SubmitFlow(context.Background(), flow))

	flows := s.Flows()
	require.Len(t, flows, 1)
	require.Equal(t, usecase.QueueConfirmations, flows[0].Job.Queue)

	// Every node of the DAG is still enqueued as a job.
	require.Len(t, s.Jobs(), 3)
	require.True(t, s.Has(leaf.ID))
	require.True(t, s.Has(flow.Job.ID))
	require.True(t, s.Has(flow.Children[0].Job.ID))
}

func TestMemoryScheduler_RemoveForgetsTheJob(t *testing.T) {
	s := NewMemoryScheduler()
	job := testJob(usecase.QueueExecutions, uuid.New())
	require.NoError(t, s.Enqueue(context.Background(), job))
	require.NoError(t, s.Remove(context.Background(), job.ID))

	require.False(t, s.Has(job.ID))
	active, err := s.ActiveJobIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, active)
}
