package broken

import "AgentHost/pkg/plugin"

func ProcessCommand(a *plugin.Agent, command string) string {
	return command
}
