package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/config"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
)

const connectTimeout = 10 * time.Second

var (
	// ErrDisabled is returned by Connect when InfluxDB is not enabled.
	ErrDisabled = errors.New("influxdb: disabled")
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// PointWriter is the non-blocking subset of the InfluxDB write API.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Influx writes grow_data points. Writes are batched by the client.
type Influx struct {
	client influxdb2.Client
	writer PointWriter
}

// Connect creates the client, checks the server and opens a batched write API.
func Connect(cfg config.InfluxDBConfig) (*Influx, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	flush := time.Duration(cfg.FlushInterval)
	if flush <= 0 {
		flush = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")
	return &Influx{client: client, writer: writeAPI}, nil
}

// NewInflux wraps an existing writer.
func NewInflux(w PointWriter) *Influx {
	return &Influx{writer: w}
}

// GrowDataPoint converts a snapshot to a grow_data point tagged by room, stage and mode.
func GrowDataPoint(g store.GrowData) *write.Point {
	fields := map[string]interface{}{
		"vpd":         g.VPD,
		"perfection":  g.Perfection,
		"perfect_min": g.PerfectMin,
		"perfect_max": g.PerfectMax,
		"temperature": g.Temperature,
		"humidity":    g.Humidity,
		"dewpoint":    g.Dewpoint,
		"co2":         g.CO2,
		"light_on":    g.LightOn,
	}
	if g.Targeted > 0 {
		fields["targeted"] = g.Targeted
	}
	ts := g.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		"grow_data",
		map[string]string{
			"room":        g.Room,
			"plant_stage": g.PlantStage,
			"tent_mode":   g.TentMode,
		},
		fields,
		ts,
	)
}

// Write queues a snapshot.
func (i *Influx) Write(g store.GrowData) {
	i.writer.WritePoint(GrowDataPoint(g))
}

// Watch writes every VPD publication of a room bus. It returns the unsubscribe func.
func (i *Influx) Watch(bus *eventbus.Bus) func() {
	return bus.Subscribe(store.TopicVPDCreation, func(ev eventbus.Event) {
		if g, ok := ev.Payload.(store.GrowData); ok {
			i.Write(g)
		}
	})
}

// Close flushes pending points and closes the client.
func (i *Influx) Close() {
	i.writer.Flush()
	if i.client != nil {
		i.client.Close()
	}
}
