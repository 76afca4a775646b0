package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"AgentHost/internal/cli"
	"AgentHost/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
