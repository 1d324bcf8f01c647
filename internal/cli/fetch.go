package cli

import (
	"fmt"

	"github.com/serverdeck/serverdeck/internal/pager"
	"github.com/spf13/cobra"
)

// NewFetchCommand creates the fetch command.
func NewFetchCommand(confPath *string) *cobra.Command {
	var force bool
	var reset bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one full listing resync",
		Long:  "Fetch the server listing page by page into the local cache, resuming from the stored cursor. Skipped when the cache is still fresh unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(*confPath)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx := cmd.Context()

			switch {
			case reset:
				// Wholesale invalidation: queued mutations survive, the
				// cached listing and continuation state do not.
				if err := application.Store().ClearServersAndKeys(ctx); err != nil {
					return fmt.Errorf("clearing cache: %w", err)
				}
			case force:
				if err := application.Store().ClearRemoteKeys(ctx); err != nil {
					return fmt.Errorf("clearing continuation state: %w", err)
				}
			}

			outcome, err := application.Refresher().RefreshAll(ctx)
			if err != nil {
				return err
			}

			if outcome == pager.RefreshSkipped {
				fmt.Fprintln(cmd.OutOrStdout(), "cache is fresh, nothing fetched (use --force to resync anyway)")
				return nil
			}

			count, err := application.Store().CountServers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resync complete, %d servers cached\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Resync even if the cache is fresh")
	cmd.Flags().BoolVar(&reset, "reset", false, "Wipe the cached listing before resyncing")

	return cmd
}
