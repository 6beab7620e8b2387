package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"warema-bridge/internal/bridge"
	"warema-bridge/internal/registry"
	"warema-bridge/internal/tsdb"
	"warema-bridge/internal/web"
	"warema-bridge/internal/wms"
)

const shutdownTimeout = 10 * time.Second

// bus is the message bus the bridge publishes to and receives commands from.
type bus interface {
	bridge.Publisher
	Connect(handler func(topic string, payload []byte) error) error
	IsConnected() bool
	Stop() error
}

// logBus stands in for the broker when none is used. Publications are logged.
type logBus struct {
	logger *slog.Logger
}

func (b *logBus) Publish(topic string, payload []byte, retained bool) {
	b.logger.Debug("publish", "topic", topic, "payload", string(payload), "retained", retained)
}

func (b *logBus) Connect(func(string, []byte) error) error { return nil }
func (b *logBus) IsConnected() bool                        { return false }
func (b *logBus) Stop() error                              { return nil }

func bridgeConfig(cfg *Config) (bridge.Config, error) {
	forced, err := bridge.ParseForced(strings.Join(cfg.Devices.Forced, ","))
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		Namespace:       cfg.MQTT.Namespace,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		Ignored:         cfg.Devices.Ignored,
		Forced:          forced,
		PollingInterval: millis(cfg.WMS.PollingInterval),
		MovingInterval:  millis(cfg.WMS.MovingInterval),
		ScanTimeout:     millis(cfg.WMS.ScanTimeout),
	}, nil
}

func wmsSettings(cfg *Config) wms.Settings {
	return wms.Settings{
		Port:    cfg.WMS.SerialPort,
		Channel: cfg.WMS.Channel,
		PanID:   cfg.WMS.PanID,
		Key:     cfg.WMS.Key,
	}
}

// run wires the stick, bus, bridge and optional web and telemetry components
// and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	bcfg, err := bridgeConfig(cfg)
	if err != nil {
		return fmt.Errorf("force devices: %w", err)
	}
	settings := wmsSettings(cfg)

	stick, err := wms.OpenStick(settings, logger)
	if err != nil {
		return err
	}

	reg := registry.New()
	events := bridge.NewEventBus(logger)
	topics := bridge.Topics{Namespace: bcfg.Namespace, Discovery: bcfg.DiscoveryPrefix}

	var b bus = &logBus{logger: logger.With("component", "bus")}
	if settings.DiscoveryMode() {
		logger.Warn("WMS_PAN_ID is FFFF, not connecting to MQTT; watch the log for network parameters")
	} else {
		b = newBus(cfg, topics, logger)
	}

	br := bridge.New(stick, b, reg, events, bcfg, logger)
	if err := b.Connect(br.HandleCommand); err != nil {
		stick.Close()
		return err
	}

	sink := initTelemetry(ctx, cfg, events, logger)

	var (
		webServer  *web.Server
		httpServer *http.Server
	)
	if cfg.Web.Listen != "" {
		webServer = web.NewServer(reg, events, logger,
			web.WithVersion(version),
			web.WithAPIKey(cfg.Web.APIKey),
			web.WithAllowedOrigins(cfg.Web.AllowedOrigins),
			web.WithBusStatus(b.IsConnected),
		)
		httpServer = &http.Server{
			Addr:         cfg.Web.Listen,
			Handler:      webServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return stick.Run(ctx)
	})

	g.Go(func() error {
		return br.Run(ctx)
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("web server starting", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown", "err", err)
			}
			webServer.Stop()
		}
		if sink != nil {
			sink.Close()
		}
		if err := b.Stop(); err != nil {
			logger.Warn("bus stop", "err", err)
		}
		return stick.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("goodbye")
	return nil
}

// initTelemetry connects the InfluxDB sink when configured. Failures are
// logged and the bridge runs without telemetry.
func initTelemetry(ctx context.Context, cfg *Config, events *bridge.EventBus, logger *slog.Logger) *tsdb.Sink {
	sink, err := tsdb.Connect(ctx, tsdb.Config{
		URL:           cfg.Influx.URL,
		Token:         cfg.Influx.Token,
		Org:           cfg.Influx.Org,
		Bucket:        cfg.Influx.Bucket,
		FlushInterval: millis(cfg.Influx.FlushInterval),
	}, logger)
	if errors.Is(err, tsdb.ErrDisabled) {
		return nil
	}
	if err != nil {
		logger.Error("influx telemetry disabled", "err", err)
		return nil
	}
	sink.Attach(events)
	return sink
}
