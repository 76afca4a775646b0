package syntax

func ProcessCommand(a *plugin.Agent, command string) string {
	return command
