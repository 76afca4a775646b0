package task

import "context"

// RecoveryHandler 定义了在任务不可重试地失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 根据失败原因给出降级结果。
	// 返回的 ExecutionResult 将作为结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc 让普通函数满足 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)

// Recover 调用 f 本身。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, task, cause)
}
