// Command reqcored serves the artifact lifecycle service: artifact CRUD,
// locking, drafts, publish/discard, and workflow transitions, backed by a
// pluggable persistent store and blob store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reqcore/internal/api"
	"reqcore/internal/blob"
	"reqcore/internal/config"
	"reqcore/internal/core"
)

func init() {
	log.SetFlags(0) // no log prefixes, on most systems systemd-journald adds them
}

func main() {
	var configPath = flag.String("config", "", "read settings from this ini `file`")
	var listenArg = flag.String("listen", "", "serve HTTP at this `ip:port` (overrides config)")
	var dbArg = flag.String("db", "", "sql database `url`, see github.com/xo/dburl (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("could not load configuration: %v", err)
		return
	}
	if *listenArg != "" {
		cfg.Listen = *listenArg
	}
	if *dbArg != "" {
		cfg.DatabaseURL = *dbArg
	}

	store, err := core.OpenStorage(core.StorageOptions{
		Driver:      core.StorageDriver(cfg.StorageDriver),
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		log.Printf("could not open storage: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := blob.OpenDriver(ctx, blob.Driver(cfg.BlobDriver), cfg.BlobRoot)
	if err != nil {
		log.Printf("could not open blob storage: %v", err)
		return
	}

	registry := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		log.Printf("could not register metrics: %v", err)
		return
	}
	svc := core.NewService(store, core.WithMetrics(metrics))

	mux := http.NewServeMux()
	mux.Handle("/", api.NewServer(svc, blobs, log.Printf))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("http server: %v", err)
	}
}
