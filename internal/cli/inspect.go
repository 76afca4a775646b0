package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	xerrors "AgentHost/internal/errors"
	"AgentHost/pkg/plugin"
)

func newInspectCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Load one agent directory or file and print what was found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := plugin.NewFactory().Load(cmd.Context(), args[0])
			if a != nil {
				defer a.Close()
				printAgent(cmd, a)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", xerrors.CodeOf(err), err)
			}
			return nil
		},
	}
}

func printAgent(cmd *cobra.Command, a *plugin.Agent) {
	out := cmd.OutOrStdout()
	hooks := strings.Join(a.Hooks().Names(), ", ")
	if hooks == "" {
		hooks = "(none)"
	}
	fmt.Fprintf(out, "Name:        %s\n", a.Name())
	fmt.Fprintf(out, "Description: %s\n", a.Description())
	fmt.Fprintf(out, "Version:     %s\n", a.Version())
	if _, err := a.Identity().SemVer(); err != nil {
		fmt.Fprintf(out, "             (not a semantic version)\n")
	}
	fmt.Fprintf(out, "Dir:         %s\n", a.Dir())
	fmt.Fprintf(out, "Source:      %s\n", a.Source())
	fmt.Fprintf(out, "Hooks:       %s\n", hooks)
	fmt.Fprintf(out, "Unit:        %s\n", a.Unit())
}
