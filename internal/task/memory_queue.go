package task

import (
	"context"
	"sync"
	"time"

	xerrors "AgentHost/internal/errors"
)

// MemoryQueue 使用 channel 实现进程内队列，用于单机部署与测试。
type MemoryQueue struct {
	ch     chan Job
	mu     sync.Mutex
	closed bool
	dead   []DeadJob
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	if job.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "队列消息缺少任务 ID")
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- job:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, job)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// DeadLetter 在内存中保留终态失败的任务。
func (q *MemoryQueue) DeadLetter(_ context.Context, dead DeadJob) error {
	if dead.At.IsZero() {
		dead.At = time.Now().UTC()
	}
	q.mu.Lock()
	q.dead = append(q.dead, dead)
	q.mu.Unlock()
	return nil
}

// DeadLetters 返回死信副本，按写入顺序排列。
func (q *MemoryQueue) DeadLetters() []DeadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadJob, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
