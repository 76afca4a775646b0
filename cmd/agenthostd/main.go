package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AgentHost/internal/agent"
	"AgentHost/internal/api"
	"AgentHost/internal/config"
	"AgentHost/internal/task"
	"AgentHost/pkg/logger"
)

// main 是 AgentHost 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agenthostd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Current()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("agenthostd")

	host, err := agent.Default()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := host.Close(closeCtx); err != nil {
			log.Warn("关闭 Agent 失败", slog.Any("error", err))
		}
	}()

	infos, failures := host.List(ctx)
	for name, ferr := range failures {
		log.Warn("Agent 预加载失败", slog.String("agent", name), slog.Any("error", ferr))
	}
	log.Info("Agent 预加载完成", slog.Int("loaded", len(infos)), slog.Int("failed", len(failures)))

	store, err := newStore(cfg.Jobs.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := newQueue(cfg.Jobs.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	service := task.NewService(store, queue, cfg.Jobs.Retries)
	processor := task.NewProcessor(host, store, queue, queue,
		task.WithWorkerCount(cfg.Jobs.Workers),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, host, service)
	log.Info("HTTP 服务启动", slog.String("address", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStore(cfg config.StoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func newQueue(cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
