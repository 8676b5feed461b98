package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperwatch/hyperwatch/internal/config"
	"github.com/hyperwatch/hyperwatch/internal/endpoint"
	"github.com/hyperwatch/hyperwatch/internal/logging"
	"github.com/hyperwatch/hyperwatch/internal/rpc"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and probe candidate endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		log := logging.NewWithLevel("error")
		sel := endpoint.NewSelector(cfg.Watcher.Endpoints, rpc.Dial, cfg.Watcher.CallTimeoutDuration(), log)

		failures := 0
		for _, ep := range sel.Probe(cmd.Context()) {
			if ep.Height == 0 {
				failures++
				fmt.Fprintf(out, "- %s: UNREACHABLE\n", ep.URL)
				continue
			}
			fmt.Fprintf(out, "- %s: height %d latency %s OK\n", ep.URL, ep.Height, ep.Latency)
		}

		if failures == len(cfg.Watcher.Endpoints) {
			return fmt.Errorf("validate: no endpoint reachable")
		}
		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
