package noentry

import "AgentHost/pkg/plugin"

func Initialize(a *plugin.Agent) error { return nil }
