package collector

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

type StateSource interface {
	State() model.State
}

// Collector exposes the latest controller state on every scrape. Nothing is exported
// before the first status arrives.
type Collector struct {
	source StateSource
	now    func() time.Time

	zoneWaterTemp  *prometheus.Desc
	zoneTargetTemp *prometheus.Desc
	zoneMode       *prometheus.Desc
	zoneTargetMode *prometheus.Desc
	auxOn          *prometheus.Desc
	airTemp        *prometheus.Desc
	statusAge      *prometheus.Desc
}

func New(source StateSource) *Collector {
	return &Collector{
		source: source,
		now:    time.Now,
		zoneWaterTemp: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "zone", "water_temperature"),
			"Current water temperature of this zone",
			[]string{"zone"},
			nil,
		),
		zoneTargetTemp: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "zone", "target_temperature"),
			"Desired water temperature of this zone",
			[]string{"zone"},
			nil,
		),
		zoneMode: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "zone", "mode"),
			"Current heating mode of this zone. Always one. See label 'mode'",
			[]string{"zone", "mode"},
			nil,
		),
		zoneTargetMode: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "zone", "target_mode"),
			"Target heating mode of this zone. Always one. See label 'mode'",
			[]string{"zone", "mode"},
			nil,
		),
		auxOn: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "aux", "on"),
			"1 if the auxiliary relay is on",
			[]string{"aux", "name"},
			nil,
		),
		airTemp: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "", "air_temperature"),
			"Air temperature reported by the controller",
			nil,
			nil,
		),
		statusAge: prometheus.NewDesc(
			prometheus.BuildFQName("compool", "", "status_age_seconds"),
			"Seconds since the last status from the controller",
			nil,
			nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.zoneWaterTemp
	ch <- c.zoneTargetTemp
	ch <- c.zoneMode
	ch <- c.zoneTargetMode
	ch <- c.auxOn
	ch <- c.airTemp
	ch <- c.statusAge
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	log.Debug().Msg("prometheus collect called")

	state := c.source.State()
	if state.ReceivedAt.IsZero() {
		return
	}

	for _, z := range state.Zones {
		zone := string(z.Zone)
		ch <- prometheus.MustNewConstMetric(c.zoneWaterTemp, prometheus.GaugeValue, z.CurrentTemp, zone)
		ch <- prometheus.MustNewConstMetric(c.zoneTargetTemp, prometheus.GaugeValue, z.TargetTemp, zone)
		ch <- prometheus.MustNewConstMetric(c.zoneMode, prometheus.GaugeValue, 1, zone, string(z.CurrentMode))
		ch <- prometheus.MustNewConstMetric(c.zoneTargetMode, prometheus.GaugeValue, 1, zone, string(z.TargetMode))
	}
	for _, r := range state.Relays {
		value := 0.0
		if r.On {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.auxOn, prometheus.GaugeValue, value, strconv.Itoa(r.Index), r.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.airTemp, prometheus.GaugeValue, state.AirTemp)
	ch <- prometheus.MustNewConstMetric(c.statusAge, prometheus.GaugeValue, c.now().Sub(state.ReceivedAt).Seconds())
}
