package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperwatch/hyperwatch/internal/alert"
	"github.com/hyperwatch/hyperwatch/internal/config"
	"github.com/hyperwatch/hyperwatch/internal/dedup"
	"github.com/hyperwatch/hyperwatch/internal/delivery"
	"github.com/hyperwatch/hyperwatch/internal/endpoint"
	"github.com/hyperwatch/hyperwatch/internal/fetch"
	"github.com/hyperwatch/hyperwatch/internal/health"
	"github.com/hyperwatch/hyperwatch/internal/logging"
	"github.com/hyperwatch/hyperwatch/internal/metrics"
	"github.com/hyperwatch/hyperwatch/internal/rpc"
	"github.com/hyperwatch/hyperwatch/internal/storage"
	"github.com/hyperwatch/hyperwatch/internal/token"
	"github.com/hyperwatch/hyperwatch/internal/watcher"
)

var (
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the transfer watcher and alert monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.NewWithLevel(cfg.Global.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		wcfg := cfg.Watcher
		selector := endpoint.NewSelector(wcfg.Endpoints, rpc.Dial, wcfg.CallTimeoutDuration(), log)
		fetcher := fetch.NewFetcher(wcfg.ChunkSize, wcfg.MaxRetries, 500*time.Millisecond, log, mtr)
		resolver := token.NewResolver(wcfg.CallTimeoutDuration(), log)
		ring := dedup.NewRing(wcfg.DedupSize)
		queue := delivery.NewQueue(wcfg.WebhookURL, log, mtr)

		w := watcher.New(watcher.Options{
			WatchAddress:  wcfg.Address(),
			PollInterval:  wcfg.PollIntervalDuration(),
			CatchupCap:    wcfg.CatchupCap,
			ReselectEvery: wcfg.ReselectEveryDuration(),
		}, selector, fetcher, resolver, ring, queue, log, mtr)

		if flagHealth != "" {
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:     store.Ping,
				RPCPing:    w.Ping,
				QueueDepth: queue.Len,
				TokenCache: resolver.CachedLen,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		go queue.Run(ctx)

		if cfg.Alerts.Enabled {
			market := alert.NewBinanceClient(cfg.Alerts.APIBases, 8*time.Second, log)
			notify := alert.NewTelegramNotifier(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID, log)
			monitor := alert.NewMonitor(cfg.Alerts, market, notify, store, log, mtr)
			go monitor.Run(ctx)
		}

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("shutting down")
		return nil
	},
}
