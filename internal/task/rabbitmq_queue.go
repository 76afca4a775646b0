package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentHost/internal/errors"
	"AgentHost/pkg/logger"
)

// DefaultRabbitMQQueue 是未配置时声明的队列名。
const DefaultRabbitMQQueue = "agenthost.commands"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// jobMessageType 标记命令任务消息，便于在 broker 管理界面中区分。
const jobMessageType = "agenthost.command"

// RabbitMQQueue 使用 RabbitMQ 实现任务队列，终态失败的任务投递到 "<queue>.dead"。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	dead  string
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	_, err = ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	dead := deadQueueName(queue)
	if _, err = ch.QueueDeclare(dead, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 死信队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, dead: dead}, nil
}

func deadQueueName(queue string) string {
	return queue + ".dead"
}

// jobPublishing 把命令任务转换为 AMQP 消息，Agent 与重试次数同时写入 header 供路由与排查。
func jobPublishing(job Job) (amqp.Publishing, error) {
	body, err := encodeJob(job)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.TaskID,
		Type:         jobMessageType,
		Headers: amqp.Table{
			"agent":   job.Agent,
			"attempt": int32(job.Attempt),
		},
		Body: body,
	}, nil
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, job Job) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg, err := jobPublishing(job)
	if err != nil {
		return err
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// DeadLetter 将终态失败的任务投递到死信队列。
func (q *RabbitMQQueue) DeadLetter(ctx context.Context, dead DeadJob) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg, err := jobPublishing(dead.Job)
	if err != nil {
		return err
	}
	if dead.At.IsZero() {
		dead.At = time.Now().UTC()
	}
	msg.Timestamp = dead.At
	msg.Headers["error_code"] = dead.Code
	msg.Headers["reason"] = dead.Reason
	if err := q.ch.PublishWithContext(ctx, "", q.dead, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 写入死信失败")
	}
	return nil
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					job, err := decodeJob(msg.Body)
					if err != nil {
						// 无法解析的消息直接丢弃，不再重投。
						logger.L().Warn("丢弃无法解析的队列消息", slog.String("queue", q.queue), slog.Any("error", err))
						_ = msg.Nack(false, false)
						continue
					}
					if err := handler(ctx, job); err != nil {
						// 交还给 broker 重新投递。
						_ = msg.Nack(false, true)
						continue
					}
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
