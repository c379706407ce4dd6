package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	swarmflow "github.com/BaSui01/swarmflow"
	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/swarm"
	"github.com/BaSui01/swarmflow/types"
)

// runWorker consumes distributed jobs for one swarm. Production
// deployments embed swarm.Worker and register real runners; this
// command runs an echo fallback for smoke-testing a deployment.
func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	swarmID := fs.String("swarm-id", "", "Swarm ID to serve (required)")
	queue := fs.String("queue", "", "Queue name override")
	metricsAddr := fs.String("metrics-addr", ":9090", "Prometheus /metrics listen address, empty to disable")
	jobsPerSec := fs.Float64("rate", 0, "Max jobs per second, 0 for unlimited")
	cfg := loadConfig(args, fs)

	if *swarmID == "" {
		fmt.Fprintln(os.Stderr, "worker: --swarm-id is required")
		os.Exit(1)
	}
	if *queue == "" {
		*queue = cfg.Distributed.Queue
	}

	logger, err := swarmflow.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store := cfg.Distributed.Store
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{store.Addr()},
		Password: store.Password,
		DB:       store.DB,
		PoolSize: store.PoolSize,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("job store unreachable", zap.String("addr", store.Addr()), zap.Error(err))
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	ns := comm.NewNamespace(cfg.Distributed.Prefix, *swarmID)
	w := swarm.NewWorker(ns, client, swarm.WorkerConfig{
		Queue:     *queue,
		RateLimit: rate.Limit(*jobsPerSec),
	}, logger)
	w.SetFallback(echoFallback)

	logger.Info("worker started",
		zap.String("version", Version),
		zap.String("swarm_id", *swarmID),
		zap.String("queue", *queue),
	)

	if err := w.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker shut down")
}

func echoFallback(_ context.Context, job *types.JobPayload) (*types.RunResult, error) {
	return &types.RunResult{
		Output: fmt.Sprintf("[echo %s] %s", job.AgentName, job.Input),
	}, nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics endpoint failed", zap.Error(err))
	}
}
