package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	server     string
	apiKey     string
}

// newRootCmd creates the root clustermaster command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "clustermaster",
		Short: "Distributed crawl scheduler",
		Long: `clustermaster keeps a prioritized backlog of domains to crawl and hands them
to a fleet of worker nodes, tracking what runs where.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (serve only)")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "base URL of a running master")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "API key sent as X-API-Key")

	cmd.AddCommand(
		newServeCmd(opts),
		newScheduleCmd(opts),
		newDomainsCmd(opts, "stop", "Stop running domains on their nodes"),
		newDomainsCmd(opts, "remove", "Remove domains from the pending backlog"),
		newDomainsCmd(opts, "discard", "Remove domains from the backlog and stop their runs"),
		newNodesCmd(opts),
		newPendingCmd(opts),
	)
	return cmd
}
