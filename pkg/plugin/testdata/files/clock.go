package clock

import (
	"strings"

	"AgentHost/pkg/plugin"
)

const (
	AgentName        = "clock"
	AgentDescription = "Reports a fixed time"
	AgentVersion     = "0.2.0"
)

func ProcessCommand(a *plugin.Agent, command string) string {
	if strings.TrimSpace(command) == "time" {
		return "12:00"
	}
	return "Unknown command: " + command
}
