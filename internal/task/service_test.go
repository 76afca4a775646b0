package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentHost/internal/agent"
	xerrors "AgentHost/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, Job) error { return errors.New("connection reset") }
func (failingProducer) Close() error                       { return nil }

func TestSubmitValidatesRequest(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1), 0)
	for _, req := range []agent.CommandRequest{
		{Command: "hello"},
		{Agent: "demo"},
		{Agent: "  ", Command: "hello"},
	} {
		_, err := svc.Submit(context.Background(), req)
		assert.Equal(t, CodeTaskValidation, xerrors.CodeOf(err), "%+v", req)
	}
}

func TestSubmitUninitialised(t *testing.T) {
	_, err := (&Service{}).Submit(context.Background(), agent.CommandRequest{Agent: "demo", Command: "hi"})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestSubmitDefaultsAndPublishes(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	svc := NewService(store, queue, 0)

	task, err := svc.Submit(context.Background(), agent.CommandRequest{Agent: " demo ", Command: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "demo", task.Agent)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, Job{TaskID: task.ID, Agent: "demo"}, <-queue.ch)

	listed, err := svc.List(context.Background(), WithAgent("demo"))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, task.ID, listed[0].ID)
}

func TestSubmitPublishFailureMarksTerminal(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{}, 3)

	_, err := svc.Submit(context.Background(), agent.CommandRequest{ID: "lost", Agent: "demo", Command: "hello"})
	require.Error(t, err)
	assert.Equal(t, CodeTaskPublish, xerrors.CodeOf(err))

	task, err := store.Get(context.Background(), "lost")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.True(t, task.Done())
}

func TestWaitUntilCompletedHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(4), 3)
	_, err := svc.Submit(context.Background(), agent.CommandRequest{ID: "idle", Agent: "demo", Command: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = svc.WaitUntilCompleted(ctx, "idle", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = svc.WaitUntilCompleted(context.Background(), "absent", time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
