package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyperwatch/hyperwatch/internal/config"
	"github.com/hyperwatch/hyperwatch/internal/endpoint"
	"github.com/hyperwatch/hyperwatch/internal/logging"
	"github.com/hyperwatch/hyperwatch/internal/rpc"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Probe candidate endpoints and show which one would be selected",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := logging.NewWithLevel("error")
		sel := endpoint.NewSelector(cfg.Watcher.Endpoints, rpc.Dial, cfg.Watcher.CallTimeoutDuration(), log)

		probes := sel.Probe(cmd.Context())
		best, _, selErr := sel.Select(cmd.Context())

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "URL\tHEIGHT\tLATENCY\tSELECTED")
		for _, ep := range probes {
			mark := ""
			if selErr == nil && ep.URL == best.URL {
				mark = "*"
			}
			if ep.Height == 0 {
				fmt.Fprintf(w, "%s\t-\t-\t%s\n", ep.URL, mark)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", ep.URL, ep.Height, ep.Latency, mark)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if selErr != nil {
			return fmt.Errorf("selection: %w", selErr)
		}
		return nil
	},
}
