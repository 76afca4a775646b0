// Package config loads the AgentHost configuration from an optional YAML or
// JSON file and the environment, keeping the variable names the agents
// runtime has always used (AGENTS_ROOT, AVAILABLE_AGENTS, LLM_CHOICE, ...).
package config
