// Copyright (c) 2022-2026 Daguflow Inc.

// Command dagmanager runs the DAG execution manager: the leader-gated
// supervisor, its per-shard workers, and the read-only admin HTTP
// surface.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagucloud/dagu/internal/config"
	"github.com/dagucloud/dagu/internal/dagaction"
	"github.com/dagucloud/dagu/internal/dagmanager"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/httpapi"
	"github.com/dagucloud/dagu/internal/jobstatus"
	"github.com/dagucloud/dagu/internal/logger"
	"github.com/dagucloud/dagu/internal/metrics"
	"github.com/dagucloud/dagu/internal/quota"
	"github.com/dagucloud/dagu/internal/specproducer"
)

// shutdownTimeout bounds how long the tracer provider gets to flush its
// batcher on exit.
const shutdownTimeout = 10 * time.Second

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "dagmanager",
		Short: "DAG execution manager: leader-gated DagManager/DagWorker supervisor.",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dagmanager/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and admin HTTP surface until terminated.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			checkError(err)

			appLogger := logger.NewLogger()
			ctx := logger.WithLogger(cmd.Context(), appLogger)

			liveStore, err := buildDagStateStore(cfg.DagStateStore)
			checkError(err)
			failedStore, err := buildDagStateStore(cfg.FailedDagStore.StoreConfig)
			checkError(err)
			actionStore, err := buildDagActionStore(cfg.DagActionStore)
			checkError(err)

			// JobStatusRetriever and SpecProducer are external collaborators:
			// the job-execution runtime that emits status events and accepts
			// submissions lives outside this module (spec.md §1/§6). A real
			// deployment supplies its own implementations of these two
			// interfaces in place of the fakes below.
			statusRetriever := jobstatus.NewFake()
			producerRegistry := specproducer.NewFakeRegistry(specproducer.NewFake())

			quotaMgr := quota.NewInMemory(0)

			reg := prometheus.NewRegistry()

			var tracer trace.Tracer
			var tracerProvider *sdktrace.TracerProvider
			if cfg.Tracing.Enabled {
				tracerProvider, tracer, err = metrics.NewTracerProvider(ctx, cfg.Tracing.ServiceName)
				checkError(err)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						logger.Error(ctx, "tracer provider shutdown failed", "error", err)
					}
				}()
			}
			collector := metrics.NewCollector(reg, tracer)

			mgr := dagmanager.New(cfg, liveStore, failedStore, actionStore, statusRetriever, producerRegistry, quotaMgr, collector)

			if err := mgr.SetActive(ctx, true); err != nil {
				return fmt.Errorf("failed to activate dagmanager: %w", err)
			}
			logger.Info(ctx, "dagmanager activated", "instanceId", mgr.InstanceID())

			var httpServer *httpapi.Server
			if cfg.HTTP.Enabled {
				httpServer = httpapi.New(cfg.HTTP.Addr, mgr)
				go func() {
					logger.Info(ctx, "admin http surface listening", "addr", httpServer.Addr())
					if err := httpServer.ListenAndServe(); err != nil {
						logger.Error(ctx, "admin http surface stopped", "error", err)
					}
				}()
			}

			waitForSignal(ctx)

			logger.Info(ctx, "dagmanager shutting down")
			if httpServer != nil {
				_ = httpServer.Shutdown(ctx)
			}
			return mgr.SetActive(ctx, false)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print shard count, polling, failure option and retention policy from the resolved configuration (no live shard load).",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			checkError(err)

			fmt.Printf("numThreads=%d pollingInterval=%s failureOption=%s\n", cfg.NumThreads, cfg.PollingInterval, cfg.FailureOption)
			fmt.Printf("failedDagRetention=%s retentionPoll=%s\n", cfg.FailedDagStore.RetentionTime, cfg.FailedDagStore.RetentionPollingPeriod)
			return nil
		},
	}
}

func buildDagStateStore(cfg config.StoreConfig) (dagstore.Store, error) {
	switch cfg.Class {
	case "sqlite":
		return dagstore.OpenSQLStore(context.Background(), cfg.DSN)
	case "", "fs":
		return dagstore.NewFSStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown dagStateStore class %q", cfg.Class)
	}
}

func buildDagActionStore(cfg config.StoreConfig) (dagaction.Store, error) {
	switch cfg.Class {
	case "redis":
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dagActionStore DSN: %w", err)
		}
		return dagaction.NewRedisStore(redis.NewClient(opts), "dagmanager:actions"), nil
	case "", "fs":
		return dagaction.NewFSStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown dagActionStore class %q", cfg.Class)
	}
}

func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
