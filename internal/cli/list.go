package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(st *state) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load every agent and list the ones that loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := st.agentHost()
			if err != nil {
				return err
			}
			defer st.close(cmd.Context())

			infos, failures := host.List(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintf(out, "No agents found under %s.\n", host.Registry().Root())
			} else {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tNAME\tVERSION\tDESCRIPTION")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Key, info.Name, info.Version, info.Description)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			names := make([]string, 0, len(failures))
			for name := range failures {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to load %s: %v\n", name, failures[name])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}
