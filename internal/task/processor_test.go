package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentHost/internal/agent"
	xerrors "AgentHost/internal/errors"
	"AgentHost/internal/observability/metrics"
	"AgentHost/pkg/plugin"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration

	mu       sync.Mutex
	failures map[string]int
	fail     func(req agent.CommandRequest) error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.CommandRequest) (*agent.CommandResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			f.mu.Lock()
			if f.failures == nil {
				f.failures = map[string]int{}
			}
			f.failures[req.ID]++
			f.mu.Unlock()
			return nil, err
		}
	}
	f.processed.Add(1)
	return &agent.CommandResult{Agent: req.Agent, Version: "1.0.0", Output: "Echo: " + req.Command}, nil
}

func (f *fakeExecutor) failuresFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[id]
}

func startProcessor(t *testing.T, exec Executor, store Store, queue Queue, opts ...ProcessorOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := NewProcessor(exec, store, queue, queue, opts...).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, svc *Service, id string) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := svc.WaitUntilCompleted(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	return task
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeExecutor{latency: 5 * time.Millisecond}
	service := NewService(store, queue, 3)
	startProcessor(t, exec, store, queue, WithWorkerCount(8))

	const total = 200
	for i := 0; i < total; i++ {
		_, err := service.Submit(context.Background(), agent.CommandRequest{Agent: "demo", Command: fmt.Sprintf("cmd-%d", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return int(exec.processed.Load()) >= total
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		stats, err := service.Stats(context.Background())
		return err == nil && stats.Succeeded == total
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProcessorRecordsOutput(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	startProcessor(t, &fakeExecutor{}, store, queue)

	submitted, err := service.Submit(context.Background(), agent.CommandRequest{ID: "fixed", Agent: "demo", Command: "hi", Metadata: map[string]any{"source": "test"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed", submitted.ID)

	task := waitFor(t, service, "fixed")
	assert.Equal(t, StatusSucceeded, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "Echo: hi", task.Result.Output)
	assert.Equal(t, "1.0.0", task.Result.AgentVersion)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "test", task.Metadata["source"])

	again, err := service.Submit(context.Background(), agent.CommandRequest{ID: "fixed", Agent: "demo", Command: "other"})
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Command)
}

func TestProcessorAgentNotFoundIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	exec := &fakeExecutor{fail: func(req agent.CommandRequest) error {
		return xerrors.Wrap(plugin.CodeAgentNotFound, errors.New("no such directory"), "agent "+req.Agent+" not found")
	}}
	startProcessor(t, exec, store, queue)

	_, err := service.Submit(context.Background(), agent.CommandRequest{ID: "ghost", Agent: "ghost", Command: "hello"})
	require.NoError(t, err)

	task := waitFor(t, service, "ghost")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, string(plugin.CodeAgentNotFound), task.ErrorCode)
	assert.Equal(t, 1, exec.failuresFor("ghost"))

	require.Eventually(t, func() bool { return len(queue.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)
	dead := queue.DeadLetters()[0]
	assert.Equal(t, Job{TaskID: "ghost", Agent: "ghost", Attempt: 1}, dead.Job)
	assert.Equal(t, string(plugin.CodeAgentNotFound), dead.Code)
	assert.Contains(t, dead.Reason, "not found")
}

func TestProcessorRetriesTransientFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	var calls atomic.Int32
	exec := &fakeExecutor{fail: func(agent.CommandRequest) error {
		if calls.Add(1) < 3 {
			return xerrors.New(xerrors.CodeStorageFailure, "disk busy")
		}
		return nil
	}}
	startProcessor(t, exec, store, queue)

	_, err := service.Submit(context.Background(), agent.CommandRequest{ID: "flaky", Agent: "demo", Command: "x"})
	require.NoError(t, err)

	task := waitFor(t, service, "flaky")
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, 2, exec.failuresFor("flaky"))
}

func TestProcessorRetriesAreBounded(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 2)
	exec := &fakeExecutor{fail: func(agent.CommandRequest) error {
		return xerrors.New(xerrors.CodeQueueFailure, "broker down")
	}}
	startProcessor(t, exec, store, queue)

	_, err := service.Submit(context.Background(), agent.CommandRequest{ID: "doomed", Agent: "demo", Command: "x"})
	require.NoError(t, err)

	task := waitFor(t, service, "doomed")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 2, task.Attempts)
	assert.Equal(t, string(xerrors.CodeQueueFailure), task.ErrorCode)
}

func TestProcessorRecoveryHandler(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	exec := &fakeExecutor{fail: func(agent.CommandRequest) error {
		return xerrors.New(plugin.CodeAgentNotFound, "agent missing")
	}}
	recovery := RecoveryFunc(func(_ context.Context, task *Task, cause error) (*ExecutionResult, error) {
		return &ExecutionResult{Output: "unavailable: " + task.Agent, Failed: true}, nil
	})
	startProcessor(t, exec, store, queue, WithRecoveryHandler(recovery))

	_, err := service.Submit(context.Background(), agent.CommandRequest{ID: "degraded", Agent: "ghost", Command: "x"})
	require.NoError(t, err)

	task := waitFor(t, service, "degraded")
	assert.Equal(t, StatusSucceeded, task.Status)
	require.NotNil(t, task.Result)
	assert.True(t, task.Result.Failed)
	assert.Equal(t, "unavailable: ghost", task.Result.Output)
}

func TestProcessorRequiresConsumer(t *testing.T) {
	err := NewProcessor(&fakeExecutor{}, NewMemoryStore(), nil, nil).Start(context.Background())
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestProcessorRecordsMetrics(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	collector := metrics.NewCollector()
	exec := &fakeExecutor{fail: func(req agent.CommandRequest) error {
		if req.Agent == "ghost" {
			return fmt.Errorf("load: %w", plugin.ErrAgentNotFound)
		}
		return nil
	}}
	startProcessor(t, exec, store, queue, WithMetrics(collector))

	ok, err := service.Submit(context.Background(), agent.CommandRequest{Agent: "demo", Command: "hi"})
	require.NoError(t, err)
	missing, err := service.Submit(context.Background(), agent.CommandRequest{Agent: "ghost", Command: "hi"})
	require.NoError(t, err)
	waitFor(t, service, ok.ID)
	waitFor(t, service, missing.ID)

	require.Eventually(t, func() bool {
		out := collector.Render()
		return strings.Contains(out, `agenthost_tasks_total{agent="demo",outcome="succeeded"} 1`) &&
			strings.Contains(out, `agenthost_tasks_total{agent="ghost",outcome="failed"} 1`)
	}, 2*time.Second, 10*time.Millisecond)
}
