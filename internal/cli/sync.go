package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(confPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the queued mutations once",
		Long:  "Replay every queued favorite, subscription and purchase operation against the remote service. Operations that fail transiently stay queued for the next run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(*confPath)
			if err != nil {
				return err
			}
			defer application.Close()

			res := application.Processor().Process(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "confirmed %d, discarded %d\n", res.Confirmed, res.Discarded)
			if retry := res.RetryFamilies(); len(retry) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "still queued (transient failures): %v\n", retry)
			}
			return nil
		},
	}

	return cmd
}
