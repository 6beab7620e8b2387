// Package tsdb records weather readings and blind positions in InfluxDB.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"warema-bridge/internal/bridge"
)

const (
	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	measurementWeather  = "weather"
	measurementPosition = "position"
)

var (
	// ErrDisabled is returned by Connect when no URL is configured.
	ErrDisabled = errors.New("tsdb: disabled")
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("tsdb: connection failed")
)

// Config holds InfluxDB v2 settings.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// pointWriter is the subset of api.WriteAPI the sink uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink turns bridge events into InfluxDB points. Writes are batched and
// non-blocking; write failures are logged.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	unsub func()
}

// Connect creates the client, pings the server and returns a sink writing to
// cfg.Bucket.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batch).
			SetFlushInterval(uint(flush.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := newSink(writeAPI, logger)
	s.client = client
	go func() {
		for err := range writeAPI.Errors() {
			s.logger.Warn("influx write failed", "err", err)
		}
	}()
	s.logger.Info("influx connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return s, nil
}

func newSink(w pointWriter, logger *slog.Logger) *Sink {
	return &Sink{
		writer: w,
		logger: logger.With("component", "tsdb"),
		now:    time.Now,
	}
}

// Attach subscribes the sink to weather and position events.
func (s *Sink) Attach(events *bridge.EventBus) {
	unsub := events.On(bridge.EventWeatherUpdate, s.HandleEvent, bridge.EventPositionUpdate)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
}

// HandleEvent writes a point for weather and position events and ignores
// everything else.
func (s *Sink) HandleEvent(e bridge.Event) {
	var p *write.Point
	switch d := e.Data.(type) {
	case bridge.WeatherUpdate:
		p = s.weatherPoint(d)
	case bridge.PositionUpdate:
		p = s.positionPoint(d)
	}
	if p != nil {
		s.writer.WritePoint(p)
	}
}

func (s *Sink) weatherPoint(w bridge.WeatherUpdate) *write.Point {
	return write.NewPoint(measurementWeather,
		map[string]string{"snr": w.Serial},
		map[string]any{
			"illuminance": w.Illuminance,
			"temperature": w.Temperature,
			"wind":        w.Wind,
			"rain":        w.Rain,
		},
		s.now())
}

// positionPoint returns nil when the update carries neither position nor tilt.
func (s *Sink) positionPoint(u bridge.PositionUpdate) *write.Point {
	fields := make(map[string]any, 3)
	if u.Position != nil {
		fields["position"] = *u.Position
	}
	if u.Tilt != nil {
		fields["tilt"] = *u.Tilt
	}
	if len(fields) == 0 {
		return nil
	}
	if u.Moving != nil {
		fields["moving"] = *u.Moving
	}
	return write.NewPoint(measurementPosition, map[string]string{"snr": u.Serial}, fields, s.now())
}

// Close unsubscribes from events, flushes pending points and closes the client.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.mu.Unlock()

	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
