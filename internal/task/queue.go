package task

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	xerrors "AgentHost/internal/errors"
)

// Job 是队列中流转的命令任务引用。正文只携带路由和排查需要的字段，
// 命令本身与元数据始终以任务存储为准。
type Job struct {
	TaskID  string `json:"task_id"`
	Agent   string `json:"agent"`
	Attempt int    `json:"attempt"`
}

// JobFor 根据任务当前状态构造队列消息。
func JobFor(task *Task) Job {
	if task == nil {
		return Job{}
	}
	return Job{TaskID: task.ID, Agent: task.Agent, Attempt: task.Attempts}
}

// DeadJob 记录一条不再重试的命令任务。
type DeadJob struct {
	Job    Job       `json:"job"`
	Code   string    `json:"code"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func encodeJob(job Job) ([]byte, error) {
	if strings.TrimSpace(job.TaskID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "队列消息缺少任务 ID")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码队列消息失败")
	}
	return data, nil
}

// decodeJob 解析队列消息。旧版本投递的纯文本任务 ID 也可以被识别。
func decodeJob(raw []byte) (Job, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Job{}, xerrors.New(xerrors.CodeQueueFailure, "队列消息为空")
	}
	if !strings.HasPrefix(text, "{") {
		return Job{TaskID: text}, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(text), &job); err != nil {
		return Job{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析队列消息失败")
	}
	if strings.TrimSpace(job.TaskID) == "" {
		return Job{}, xerrors.New(xerrors.CodeQueueFailure, "队列消息缺少任务 ID")
	}
	return job, nil
}

// Handler 处理来自消息队列的命令任务。
type Handler func(ctx context.Context, job Job) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// DeadLetterer 由支持死信的队列实现，终态失败的任务会被转存以便排查。
type DeadLetterer interface {
	DeadLetter(ctx context.Context, dead DeadJob) error
}
