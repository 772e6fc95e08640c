package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubQueue struct {
	info      *asynq.QueueInfo
	err       error
	scheduled []*asynq.TaskInfo
}

func (s stubQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s stubQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func TestTriggerReminders(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLIWith(enq, nil)

	info, err := c.Trigger(context.Background(), jobs.TaskTypeDuesReminder)
	require.NoError(t, err)
	require.Equal(t, "task-1", info.ID)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskTypeDuesReminder, enq.tasks[0].Type())

	_, err = c.Trigger(context.Background(), jobs.TaskTypeSendEmail)
	require.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := NewJobsCLIWith(nil, stubQueue{info: &asynq.QueueInfo{Pending: 2, Active: 1, Retry: 3}})
	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Active: 1, Retry: 3}, stats)

	c = NewJobsCLIWith(nil, stubQueue{err: asynq.ErrQueueNotFound})
	stats, err = c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Pending)

	c = NewJobsCLIWith(nil, stubQueue{err: errors.New("redis down")})
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}

func TestListScheduledRequiresInspector(t *testing.T) {
	_, err := NewJobsCLIWith(nil, nil).ListScheduled(context.Background(), 5)
	require.Error(t, err)

	c := NewJobsCLIWith(nil, stubQueue{scheduled: []*asynq.TaskInfo{{ID: "a"}}})
	tasks, err := c.ListScheduled(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, c.Close())
}
