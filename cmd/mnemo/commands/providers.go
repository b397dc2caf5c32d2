package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewProvidersCmd constructs the `mnemo providers` command, which probes
// every registered provider and prints its health classification. Probing
// never initializes a provider, so this is safe to run at any time.
func NewProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show the health of every configured model provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()

			snapshots := a.monitor.Check(cmd.Context())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tDETAIL")
			for _, name := range a.registry.Names() {
				snap := snapshots[name]
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, snap.Status, snap.Message)
			}
			return w.Flush()
		},
	}
}
