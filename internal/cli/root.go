package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"AgentHost/internal/agent"
	"AgentHost/internal/config"
	"AgentHost/pkg/logger"
)

// state is shared by every subcommand of one root command.
type state struct {
	configPath string
	agentsRoot string
	logLevel   string

	cfg  *config.Config
	host *agent.Host
}

// NewRootCmd builds the agentctl command tree.
func NewRootCmd() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Load, inspect and drive AgentHost agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", "", "configuration file (defaults to $"+config.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&st.agentsRoot, "agents-root", "", "override agents.root")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newListCmd(st),
		newInspectCmd(st),
		newRunCmd(st),
		newConfigCmd(st),
	)
	return root
}

// Execute runs agentctl with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (st *state) load() error {
	path := st.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if st.agentsRoot != "" {
		cfg.Agents.Root = st.agentsRoot
	}
	if st.logLevel != "" {
		cfg.Log.Level = st.logLevel
	}
	logCfg := cfg.LoggerConfig()
	// stdout carries command output.
	logCfg.OutputPaths = []string{"stderr"}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	st.cfg = cfg
	return nil
}

func (st *state) agentHost() (*agent.Host, error) {
	if st.host != nil {
		return st.host, nil
	}
	host, err := agent.New(st.cfg)
	if err != nil {
		return nil, err
	}
	st.host = host
	return host, nil
}

func (st *state) close(ctx context.Context) error {
	if st.host == nil {
		return nil
	}
	return st.host.Close(ctx)
}
