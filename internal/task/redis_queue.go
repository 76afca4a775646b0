package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHost/internal/errors"
	"AgentHost/pkg/logger"
)

// DefaultRedisKey 是未配置时使用的 list 键名。
const DefaultRedisKey = "agenthost:commands"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 入队，BRPOP 出队。
// 终态失败的任务写入 "<key>:dead"。
type RedisQueue struct {
	client *redis.Client
	queue  string
	dead   string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg.Key, cfg.BlockWait), nil
}

func newRedisQueue(client *redis.Client, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: key, dead: key + ":dead", wait: wait}
}

// Publish 将命令任务编码为 JSON 投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取任务。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				q.deliver(ctx, values[1], handler)
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) deliver(ctx context.Context, raw string, handler Handler) {
	job, err := decodeJob([]byte(raw))
	if err != nil {
		// 无法解析的消息不再回到主队列。
		logger.L().Warn("丢弃无法解析的队列消息", slog.String("queue", q.queue), slog.Any("error", err))
		_ = q.client.LPush(ctx, q.dead, raw).Err()
		return
	}
	if handlerErr := handler(ctx, job); handlerErr != nil {
		_ = q.client.RPush(ctx, q.queue, raw).Err()
	}
}

// DeadLetter 将终态失败的任务写入死信 list。
func (q *RedisQueue) DeadLetter(ctx context.Context, dead DeadJob) error {
	if dead.At.IsZero() {
		dead.At = time.Now().UTC()
	}
	payload, err := json.Marshal(dead)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码死信失败")
	}
	if err := q.client.LPush(ctx, q.dead, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 写入死信失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
