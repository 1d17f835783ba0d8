// Package history writes every controller status to InfluxDB as a pool_status point.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/config"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

const (
	Measurement = "pool_status"

	defaultConnectTimeout = 10 * time.Second
	batchSize             = 50
	flushIntervalMS       = 10_000
)

var ErrConnectionFailed = errors.New("influxdb: connection failed")

// PointWriter is the non-blocking write API.
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

type Recorder struct {
	client influxdb2.Client
	writer PointWriter
}

func Connect(cfg config.InfluxConfig) (*Recorder, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(batchSize).SetFlushInterval(flushIntervalMS))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
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
	go logWriteErrors(writeAPI)

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB history enabled")
	return &Recorder{client: client, writer: writeAPI}, nil
}

func logWriteErrors(w api.WriteAPI) {
	for err := range w.Errors() {
		log.Warn().Err(err).Msg("InfluxDB write failed")
	}
}

func (r *Recorder) Observe(state model.State) {
	for _, p := range Points(state) {
		r.writer.WritePoint(p)
	}
}

// Points converts a state into one point per zone plus one for the shared readings.
func Points(state model.State) []*write.Point {
	ts := state.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	points := make([]*write.Point, 0, len(state.Zones)+1)
	for _, z := range state.Zones {
		points = append(points, influxdb2.NewPoint(Measurement,
			map[string]string{"zone": string(z.Zone)},
			map[string]interface{}{
				"water_temp":   z.CurrentTemp,
				"target_temp":  z.TargetTemp,
				"current_mode": string(z.CurrentMode),
				"target_mode":  string(z.TargetMode),
			},
			ts))
	}

	fields := map[string]interface{}{"air_temp": state.AirTemp}
	for _, r := range state.Relays {
		fields["aux"+strconv.Itoa(r.Index)] = r.On
	}
	points = append(points, influxdb2.NewPoint(Measurement, map[string]string{"zone": "system"}, fields, ts))
	return points
}

// Close flushes pending points.
func (r *Recorder) Close() error {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
