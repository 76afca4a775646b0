package unversioned

import "AgentHost/pkg/plugin"

const (
	AgentName        = "unversioned"
	AgentDescription = "Declares no AgentVersion"
)

func ProcessCommand(a *plugin.Agent, command string) string {
	return command
}
