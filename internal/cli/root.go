// Package cli is the operational command-line surface: one-shot resync,
// queue draining and cache inspection against a configured deployment.
package cli

import (
	"github.com/serverdeck/serverdeck/internal/app"
	"github.com/serverdeck/serverdeck/internal/config"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	var confPath string

	cmd := &cobra.Command{
		Use:     "serverdeck",
		Short:   "Serverdeck - offline-first game server listing cache",
		Long:    "Serverdeck caches paginated server listings locally and replays queued favorite, subscription and purchase mutations against the remote service.",
		Version: version,
	}

	cmd.PersistentFlags().StringVar(&confPath, "config", "", "Directory containing config.yaml")

	cmd.AddCommand(NewFetchCommand(&confPath))
	cmd.AddCommand(NewSyncCommand(&confPath))
	cmd.AddCommand(NewStatusCommand(&confPath))

	return cmd
}

// openApp loads configuration and wires the application container.
func openApp(confPath string) (*app.App, error) {
	cfg, err := config.Load(confPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
