// Command leafpeer runs the peer daemon: it binds the broadcast UDP
// endpoint, serves the single-threaded dispatch loop, and exposes
// Prometheus metrics.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/leafstore/leafnode/internal/config"
	"github.com/leafstore/leafnode/internal/metrics"
	"github.com/leafstore/leafnode/internal/peer"
	"github.com/leafstore/leafnode/internal/peerstore"
	"github.com/leafstore/leafnode/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (optional)")
	port := flag.Int("port", 0, "UDP port override")
	stateDir := flag.String("state-dir", "", "chunk store root override")
	maxCapacity := flag.Int64("max-capacity", 0, "storage capacity override, bytes")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus /metrics port override")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port != 0 {
		cfg.Network.Port = *port
	}
	if *stateDir != "" {
		cfg.Storage.StateDir = *stateDir
	}
	if *maxCapacity != 0 {
		cfg.Storage.MaxCapacity = *maxCapacity
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := peerstore.Open(cfg.Storage.StateDir, cfg.Storage.MaxCapacity)
	if err != nil {
		logger.Error("open peer store", "error", err)
		os.Exit(4)
	}

	m := metrics.New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.Handle("/metrics/default", promhttp.Handler())
		addr := ":" + strconv.Itoa(cfg.Server.MetricsPort)
		logger.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	ep, err := transport.Listen("0.0.0.0:"+strconv.Itoa(cfg.Network.Port), transport.Config{
		SendTimeout: cfg.Network.SendTimeout,
		RecvTimeout: cfg.Network.RecvTimeout,
	})
	if err != nil {
		logger.Error("bind udp endpoint", "error", err)
		os.Exit(4)
	}

	srv := peer.New(ep, store, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("leafpeer ready", "port", cfg.Network.Port, "state_dir", cfg.Storage.StateDir)
	serveErr := srv.Serve(ctx)
	if serveErr != nil && serveErr != context.Canceled {
		logger.Warn("serve loop exited", "error", serveErr)
	}

	if err := store.Snapshot(); err != nil {
		logger.Error("snapshot on shutdown", "error", err)
	}
	ep.Close()
	store.Close()
}
