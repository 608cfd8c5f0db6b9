// Spins up the skipmap server, compatible w/ the Redis protocol.

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nobletooth/skipmap/pkg/config"
	"github.com/nobletooth/skipmap/pkg/port"
	"github.com/nobletooth/skipmap/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	metricsAddress = flag.String("metrics_address", ":9090",
		"The ip:port serving prometheus metrics on /metrics; empty disables it.")
)

// serveMetrics exposes the default prometheus registry until `ctx` is cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	slog.Info("Serving metrics.", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped.", "error", err)
	}
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Skipmap build info.", utils.BuildAttrs())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddress != "" {
		go serveMetrics(ctx, *metricsAddress)
	}

	store, err := port.NewSkipMapStorage()
	if err != nil {
		slog.Error("Failed to create storage.", "error", err)
		os.Exit(1)
	}
	if err := port.RunRedisServer(ctx, store); err != nil {
		slog.Error("Skipmap server stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Skipmap server stopped gracefully.")
}
