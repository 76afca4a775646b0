package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"AgentHost/pkg/plugin"
)

// DemoName 是内置演示 Agent 的注册名。
const DemoName = "demo-agent"

const demoHelp = `Demo Agent Help:
- hello: Say hello to the agent
- help: Show this help message
- status: Show agent status
- echo [text]: Echo back the text
- add [x] [y]: Add two numbers`

// NewDemo 构造内置演示 Agent，不依赖磁盘上的任何文件。
func NewDemo(ctx context.Context, factory *plugin.Factory) (*plugin.Agent, error) {
	if factory == nil {
		factory = plugin.NewFactory()
	}
	return factory.Assemble(ctx, plugin.Definition{
		Identity: plugin.Identity{
			Name:        "Demo Agent",
			Description: "A simple demo agent for testing",
			Version:     "1.0.0",
		},
		Process: demoCommand,
	})
}

func demoCommand(a *plugin.Agent, command string) (any, error) {
	if command == "" {
		return "Please enter a command.", nil
	}
	command = strings.ToLower(command)
	switch {
	case strings.Contains(command, "hello"):
		return fmt.Sprintf("Hello! I'm %s, a demo agent.", a.Name()), nil
	case strings.Contains(command, "help"):
		return demoHelp, nil
	case strings.Contains(command, "status"):
		return fmt.Sprintf("Agent status: Running\nName: %s\nVersion: %s", a.Name(), a.Version()), nil
	case strings.HasPrefix(command, "echo "):
		return "Echo: " + strings.TrimSpace(command[len("echo "):]), nil
	case strings.HasPrefix(command, "add "):
		parts := strings.Fields(command[len("add "):])
		if len(parts) < 2 {
			return "Please provide two numbers.", nil
		}
		x, errX := strconv.ParseFloat(parts[0], 64)
		y, errY := strconv.ParseFloat(parts[1], 64)
		if errX != nil || errY != nil {
			return "Please provide valid numbers.", nil
		}
		return fmt.Sprintf("%s + %s = %s", formatNumber(x), formatNumber(y), formatNumber(x+y)), nil
	}
	return fmt.Sprintf("I don't understand '%s'.\nType 'help' to see available commands.", command), nil
}

// formatNumber 总是保留小数部分，2 显示为 2.0。
func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
