package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/celltwin/celltwin/simulator/internal/publish"
	"github.com/celltwin/celltwin/simulator/internal/synth"
)

func main() {
	broker := flag.String("broker", "localhost:1883", "MQTT broker host:port")
	topic := flag.String("topic", "automotive/battery/telemetry", "telemetry topic")
	clientID := flag.String("client-id", "celltwin-simulator", "MQTT client id")
	qos := flag.Int("qos", 1, "publish QoS (0 or 1)")
	devices := flag.Int("devices", 3, "number of simulated batteries")
	interval := flag.Duration("interval", 2*time.Second, "wall-clock delay between samples per device")
	samplesPerCycle := flag.Int("samples-per-cycle", 30, "samples per discharge cycle")
	seed := flag.Int64("seed", 1, "base random seed (device i uses seed+i)")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, nil)))

	if *qos < 0 || *qos > 1 {
		slog.Error("qos must be 0 or 1", "qos", *qos)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub := publish.New(publish.Options{
		Broker:   *broker,
		Topic:    *topic,
		ClientID: *clientID,
		QoS:      byte(*qos),
	})
	go pub.Run(ctx)

	slog.Info("celltwin-simulator starting",
		"broker", *broker,
		"topic", *topic,
		"devices", *devices,
		"interval", *interval,
	)

	var wg sync.WaitGroup
	for i := 0; i < *devices; i++ {
		deviceID := fmt.Sprintf("B%04d", 5+i) // B0005, B0006, ...
		cell := synth.NewCell(deviceID, *seed+int64(i), synth.Params{
			SamplesPerCycle: *samplesPerCycle,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			streamDevice(ctx, pub, cell, deviceID, *interval)
		}()
	}

	wg.Wait()
	slog.Info("celltwin-simulator stopped")
}

// streamDevice emits the cell's telemetry at the configured pace until ctx
// is cancelled. Publish failures are logged and the sample is skipped; the
// monitor's cycle aggregation tolerates gaps.
func streamDevice(ctx context.Context, pub *publish.Publisher, cell *synth.Cell, deviceID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := cell.Next()
			if err := pub.Publish(ctx, s); err != nil {
				slog.Warn("publish failed, skipping sample",
					"device", deviceID, "cycle", s.CycleID, "err", err)
				continue
			}
			slog.Debug("published sample",
				"device", deviceID,
				"cycle", s.CycleID,
				"voltage", s.Voltage,
				"capacity_ah", cell.CapacityAh(),
			)
		}
	}
}
