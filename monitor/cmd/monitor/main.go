package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/celltwin/celltwin/monitor/internal/alerts"
	"github.com/celltwin/celltwin/monitor/internal/api"
	"github.com/celltwin/celltwin/monitor/internal/config"
	"github.com/celltwin/celltwin/monitor/internal/ingest"
	"github.com/celltwin/celltwin/monitor/internal/metrics"
	"github.com/celltwin/celltwin/monitor/internal/pipeline"
	"github.com/celltwin/celltwin/monitor/internal/predict"
	"github.com/celltwin/celltwin/monitor/internal/store"
	"github.com/celltwin/celltwin/monitor/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("celltwin-monitor starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	mc := cfg.Monitor

	slog.Info("config loaded",
		"broker", mc.MQTT.Broker,
		"topic", mc.MQTT.Topic,
		"http_port", mc.HTTPPort,
		"alert_threshold", mc.Alert.Threshold,
		"predictor_mode", mc.Predictor.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := metrics.NewRegistry()

	// History store with background TTL eviction of silent devices.
	st := store.New(mc.History.MaxCycles, mc.History.DeviceTTL)
	go st.Run(ctx)

	predictor, err := predict.New(mc.Predictor)
	if err != nil {
		slog.Error("failed to build predictor", "err", err)
		os.Exit(1)
	}
	scorer := predict.NewScorer(predictor, mc.Predictor)

	notifier := alerts.NewNotifier(mc.Alert.Webhooks)

	pipe := pipeline.New(scorer, notifier, st, pipeline.Options{
		Threshold:  mc.Alert.Threshold,
		QueueSize:  mc.QueueSize,
		MaxDevices: mc.MaxDevices,
	}, reg)

	// MQTT listener — validates samples and feeds the per-device workers.
	listener := ingest.NewListener(mc.MQTT, pipe, reg)
	go listener.Run(ctx)

	// Config hot-reload: alert threshold and webhook targets apply live.
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			pipe.SetThreshold(updated.Monitor.Alert.Threshold)
			notifier.SetWebhooks(updated.Monitor.Alert.Webhooks)
			slog.Info("config reloaded",
				"alert_threshold", updated.Monitor.Alert.Threshold,
				"webhooks", len(updated.Monitor.Alert.Webhooks),
			)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// WebSocket hub — broadcasts the fleet snapshot to dashboards.
	hub := ws.New(st, mc.BroadcastInterval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + WebSocket hub + metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, pipe.Threshold))
	httpMux.Handle("/ws/fleet", hub)
	httpMux.Handle("/metrics", reg.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", mc.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", mc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("celltwin-monitor shutting down")

	// Drain and flush open cycles before exiting.
	pipe.Close()
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
