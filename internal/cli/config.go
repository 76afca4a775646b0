package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var summaryKeys = map[string]bool{
	"agents.root":      true,
	"agents.available": true,
	"knowledge_root":   true,
	"target_folder":    true,
	"llm.provider":     true,
	"features.mem0":    true,
}

func newConfigCmd(st *state) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the loader configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Agent Configuration:")
			if st.cfg.File != "" && verbose {
				fmt.Fprintf(out, "  (from %s)\n", st.cfg.File)
			}
			for _, s := range st.cfg.Settings() {
				if verbose || summaryKeys[s.Key] {
					fmt.Fprintf(out, "  %s: %s\n", s.Key, s.Value)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "show every setting")
	return cmd
}
