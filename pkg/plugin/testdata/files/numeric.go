package numeric

import "AgentHost/pkg/plugin"

const (
	AgentName        = "numeric"
	AgentDescription = "Declares a numeric version"
	AgentVersion     = 3
)

func ProcessCommand(a *plugin.Agent, command string) string {
	return command
}
