package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"AgentHost/internal/agent"
	"AgentHost/pkg/plugin"
)

func newRunCmd(st *state) *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "run [agent] [command...]",
		Short: "Send one command to an agent, or start an interactive session",
		Long: `Send one command to an agent and print the reply. Without a command an
interactive session starts; type "exit" to leave it. --demo uses the built-in
demo agent, in which case every argument is part of the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				a   *plugin.Agent
				d   = plugin.NewDispatcher(plugin.WithFormat(st.format()))
				err error
			)
			if demo {
				a, err = agent.NewDemo(ctx, nil)
				if err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return errors.New("an agent name is required unless --demo is set")
				}
				host, herr := st.agentHost()
				if herr != nil {
					return herr
				}
				defer st.close(ctx)
				a, err = host.Get(ctx, args[0])
				if err != nil {
					return err
				}
				d = host.Dispatcher()
				args = args[1:]
			}

			if len(args) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), d.Dispatch(ctx, a, strings.Join(args, " ")))
				return nil
			}
			return interactive(cmd, d, a)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "use the built-in demo agent")
	return cmd
}

func interactive(cmd *cobra.Command, d *plugin.Dispatcher, a *plugin.Agent) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent: %s (v%s)\n%s\nType 'exit' to quit.\n", a.Name(), a.Version(), a.Description())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		fmt.Fprintln(out, d.Dispatch(cmd.Context(), a, line))
	}
}

func (st *state) format() plugin.Format {
	f, err := plugin.ParseFormat(st.cfg.Dispatch.Format)
	if err != nil {
		return plugin.FormatJSON
	}
	return f
}
