// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command boltzgend runs the GPU job-queue daemon: it loads
// configuration, recovers any persisted queue state, starts the
// worker loop, and serves the HTTP request surface until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boltzgen/queued/internal/queue"
	"github.com/boltzgen/queued/internal/server"
	"github.com/boltzgen/queued/internal/store"
	"github.com/boltzgen/queued/internal/supervisor"
	"github.com/boltzgen/queued/pkg/config"
	"github.com/boltzgen/queued/pkg/logging"
	"github.com/boltzgen/queued/pkg/metrics"
)

var (
	flagConfigFile string
	flagListenAddr string
	flagMaxWorkers int
	flagDeviceIDs  string
	flagDebug      bool

	rootCmd = &cobra.Command{
		Use:   "boltzgend",
		Short: "GPU design-job queue daemon",
		RunE:  runDaemon,
	}
)

func init() {
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a config file (optional)")
	rootCmd.Flags().StringVar(&flagListenAddr, "listen-addr", "", "HTTP listen address (env: BOLTZGEN_LISTEN_ADDR)")
	rootCmd.Flags().IntVar(&flagMaxWorkers, "max-workers", 0, "concurrency cap (env: BOLTZGEN_MAX_WORKERS)")
	rootCmd.Flags().StringVar(&flagDeviceIDs, "gpu-ids", "", "comma-separated device ids (env: BOLTZGEN_GPU_IDS)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if flagConfigFile != "" {
		v.SetConfigFile(flagConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	if flagListenAddr != "" {
		v.Set("listen_addr", flagListenAddr)
	}
	if flagMaxWorkers != 0 {
		v.Set("max_workers", flagMaxWorkers)
	}
	if flagDeviceIDs != "" {
		v.Set("gpu_ids", flagDeviceIDs)
	}
	if flagDebug {
		v.Set("debug", true)
	}

	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Format = logging.FormatJSON
	if cfg.Debug {
		logCfg.Level = slog.LevelDebug
	}
	log := logging.NewLogger(logCfg)

	if err := os.MkdirAll(cfg.JobsRoot, 0o755); err != nil {
		return fmt.Errorf("create jobs root: %w", err)
	}

	st, err := store.New(cfg.JobsRoot, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	sup := supervisor.New(cfg.ScriptsDir, log)
	collector := metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)

	q, err := queue.New(queue.Options{
		MaxWorkers:  cfg.MaxWorkers,
		DeviceIDs:   cfg.DeviceIDs,
		Store:       st,
		Supervisor:  sup,
		Metrics:     collector,
		Log:         log.With("component", "queue"),
		EvictionAge: cfg.EvictionAge,
	})
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	q.Start()
	defer q.Stop()

	srv := server.New(cfg, q, log.With("component", "server"), collector)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints (SSE, WebSocket) run long
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "max_workers", cfg.MaxWorkers, "devices", cfg.DeviceIDs)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("http server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
