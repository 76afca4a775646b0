package badhook

import "AgentHost/pkg/plugin"

const (
	AgentName        = "badhook"
	AgentDescription = "Cleanup takes the wrong arguments"
	AgentVersion     = "1.0.0"
)

func ProcessCommand(a *plugin.Agent, command string) string {
	return command
}

func Cleanup(a *plugin.Agent, reason string) error {
	return nil
}
