package collector

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

type staticSource struct {
	state model.State
}

func (s staticSource) State() model.State { return s.state }

func TestCollector(t *testing.T) {
	received := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(staticSource{state: model.State{
		Zones: []model.ZoneState{
			{Zone: model.ZonePool, CurrentMode: model.ModeHeat, TargetMode: model.ModeHeat, CurrentTemp: 78, TargetTemp: 82},
		},
		Relays:     []model.RelayState{{Relay: model.Relay{Index: 3, Name: "Jets"}, On: true}},
		AirTemp:    70,
		ReceivedAt: received,
	}})
	c.now = func() time.Time { return received.Add(30 * time.Second) }

	expected := `
# HELP compool_air_temperature Air temperature reported by the controller
# TYPE compool_air_temperature gauge
compool_air_temperature 70
# HELP compool_aux_on 1 if the auxiliary relay is on
# TYPE compool_aux_on gauge
compool_aux_on{aux="3",name="Jets"} 1
# HELP compool_status_age_seconds Seconds since the last status from the controller
# TYPE compool_status_age_seconds gauge
compool_status_age_seconds 30
# HELP compool_zone_mode Current heating mode of this zone. Always one. See label 'mode'
# TYPE compool_zone_mode gauge
compool_zone_mode{mode="heat",zone="pool"} 1
# HELP compool_zone_water_temperature Current water temperature of this zone
# TYPE compool_zone_water_temperature gauge
compool_zone_water_temperature{zone="pool"} 78
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"compool_air_temperature",
		"compool_aux_on",
		"compool_status_age_seconds",
		"compool_zone_mode",
		"compool_zone_water_temperature",
	)
	require.NoError(t, err)
	assert.Equal(t, 7, testutil.CollectAndCount(c))
}

func TestCollector_NothingBeforeFirstStatus(t *testing.T) {
	c := New(staticSource{state: model.State{Zones: []model.ZoneState{{Zone: model.ZonePool}}}})
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
