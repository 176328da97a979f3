package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type scheduleFlags struct {
	priority int
	settings []string
}

// newScheduleCmd creates the "clustermaster schedule" subcommand.
func newScheduleCmd(opts *rootOptions) *cobra.Command {
	flags := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "schedule DOMAIN...",
		Short: "Queue domains for crawling",
		Long: `Adds domains to the pending backlog. Lower priorities run sooner; domains
already pending only move when the new priority is lower.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := parseSettings(flags.settings)
			if err != nil {
				return err
			}
			body := map[string]any{"domains": args}
			if len(settings) > 0 {
				body["settings"] = settings
			}
			if cmd.Flags().Changed("priority") {
				body["priority"] = flags.priority
			}
			data, err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/v1/schedule", body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().IntVarP(&flags.priority, "priority", "p", 0, "priority (server default when unset)")
	cmd.Flags().StringArrayVarP(&flags.settings, "setting", "s", nil, "crawl setting as key=value (repeatable)")
	return cmd
}

// newDomainsCmd creates a subcommand that posts a domain list to /v1/<name>.
func newDomainsCmd(opts *rootOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " DOMAIN...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/v1/"+name,
				map[string]any{"domains": args})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

// newNodesCmd creates the "clustermaster nodes" subcommand.
func newNodesCmd(opts *rootOptions) *cobra.Command {
	var verbosity int
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Show node status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, opts, "/v1/nodes?verbosity="+strconv.Itoa(verbosity))
		},
	}
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 1, "0 none, 1 summary, 2 full")
	return cmd
}

// newPendingCmd creates the "clustermaster pending" subcommand.
func newPendingCmd(opts *rootOptions) *cobra.Command {
	var verbosity int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the pending backlog in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, opts, "/v1/pending?verbosity="+strconv.Itoa(verbosity))
		},
	}
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 1, "0 none, 1 summary, 2 with settings")
	return cmd
}

func getAndPrint(cmd *cobra.Command, opts *rootOptions, path string) error {
	data, err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

// parseSettings turns key=value pairs into settings. Values that parse as
// JSON primitives keep their type; anything else is a plain string.
func parseSettings(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("setting %q must be key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		switch v.(type) {
		case map[string]any, []any, nil:
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
