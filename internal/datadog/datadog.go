package datadog

import (
	"fmt"
	"strconv"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

// Statter is the part of the DogStatsD client the bridge uses.
type Statter interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Close() error
}

type Metrics struct {
	client Statter
}

func New(addr, namespace string, tags []string) (*Metrics, error) {
	dogstatsd, err := statsd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("create DogStatsD client: %w", err)
	}
	dogstatsd.Namespace = namespace
	dogstatsd.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")

	return &Metrics{client: dogstatsd}, nil
}

func modeValue(m model.Mode) float64 {
	switch m {
	case model.ModeHeat:
		return 1
	case model.ModeCool:
		return 2
	default:
		return 0
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) Observe(state model.State) {
	for _, z := range state.Zones {
		tag := "zone:" + string(z.Zone)
		m.Gauge("zone.water_temp", z.CurrentTemp, tag)
		m.Gauge("zone.target_temp", z.TargetTemp, tag)
		m.Gauge("zone.mode", modeValue(z.CurrentMode), tag)
		m.Gauge("zone.target_mode", modeValue(z.TargetMode), tag)
	}
	for _, r := range state.Relays {
		m.Gauge("aux.on", boolValue(r.On), "aux:"+strconv.Itoa(r.Index), "name:"+r.Name)
	}
	m.Gauge("air.temp", state.AirTemp)
}

func (m *Metrics) ClockSkew(minutes int) {
	m.Gauge("clock.skew_minutes", float64(minutes))
}

// Command counts a finished device command by op and outcome.
func (m *Metrics) Command(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if cerr := m.client.Count("command.count", 1, []string{"op:" + op, "result:" + result}, 1); cerr != nil {
		log.Warn().Err(cerr).Str("metric", "command.count").Msg("Failed to emit count metric")
	}
}

func (m *Metrics) Close() error {
	return m.client.Close()
}
