package cli

import (
	"errors"
	"fmt"

	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(confPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(*confPath)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			st := application.Store()

			count, err := st.CountServers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "servers cached: %d\n", count)

			key, err := st.RemoteKey(ctx, store.DefaultPartition)
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintln(out, "last refresh:   never")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "last refresh:   %s\n", key.LastUpdated.Format("2006-01-02 15:04:05 MST"))
				if key.NextPage == nil {
					fmt.Fprintln(out, "pagination:     exhausted")
				} else {
					fmt.Fprintf(out, "pagination:     cursor %s\n", *key.NextPage)
				}
			}

			for _, family := range store.Families() {
				ops, err := st.PendingOperations(ctx, family)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "queued %-13s %d\n", string(family)+":", len(ops))
			}

			return nil
		},
	}

	return cmd
}
