package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/mdns"
)

func newDiscoverCommand(opts *rootOptions, lookup lookupFunc) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for chassis daemons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.log.Info("browsing", logging.Field{Key: "service", Value: mdns.Service}, logging.Field{Key: "timeout", Value: timeout.String()})
			hosts, err := mdns.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				color.New(color.FgYellow).Fprintln(out, "no chassis found")
				return nil
			}
			for _, h := range hosts {
				color.New(color.FgCyan).Fprintf(out, "%s", h.Instance)
				fmt.Fprintf(out, "  %s%s\n", h.Addr(), formatTXT(h.TXT))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", envDuration(lookup, "QUADLO_DISCOVER_TIMEOUT", 3*time.Second), "browse duration")
	return cmd
}

func formatTXT(txt map[string]string) string {
	if len(txt) == 0 {
		return ""
	}
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + txt[k]
	}
	return "  " + strings.Join(parts, " ")
}
