package demo

import (
	"fmt"
	"strings"

	"AgentHost/pkg/plugin"
)

var (
	initialized int
	handled     int
)

func Initialize(a *plugin.Agent) error {
	initialized++
	return nil
}

func ProcessCommand(a *plugin.Agent, command string) (interface{}, error) {
	handled++
	switch {
	case command == "hello":
		return a.ConfigString("greeting", "Hi") + " from " + a.Name(), nil
	case strings.HasPrefix(command, "echo "):
		return "Echo: " + strings.TrimPrefix(command, "echo "), nil
	case command == "boom":
		return nil, fmt.Errorf("boom")
	}
	return fmt.Sprintf("Unknown command: %s", command), nil
}

func GetStatus(a *plugin.Agent) map[string]interface{} {
	return map[string]interface{}{
		"initialized": initialized,
		"handled":     handled,
	}
}
