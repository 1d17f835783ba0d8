package heating

import (
	"errors"
	"fmt"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

var ErrCapabilityViolation = errors.New("heating mode not supported by zone")

// Resolve derives the thermostat view of a zone from a snapshot. A nil snapshot resolves to
// off with zero temperatures.
func Resolve(zone model.Zone, snap *model.Snapshot) model.ZoneState {
	st := model.ZoneState{
		Zone:        zone.Name,
		Label:       zone.Label,
		CurrentMode: CurrentMode(zone, snap),
	}

	st.TargetMode = st.CurrentMode
	// The controller holds the heater/chiller off during its anti-short-cycle delay, so the
	// request cannot be honoured yet and is reported as heading to off.
	if st.CurrentMode != model.ModeOff {
		if delay, _ := snap.Bool(zone.DelayField()); delay {
			st.TargetMode = model.ModeOff
		}
	}

	st.CurrentTemp, _ = snap.Number(zone.WaterTempField())
	st.TargetTemp, _ = snap.Number(zone.DesiredTempField())
	return st
}

func CurrentMode(zone model.Zone, snap *model.Snapshot) model.Mode {
	if pump, _ := snap.Bool(zone.PumpField()); !pump {
		return model.ModeOff
	}
	if heater, _ := snap.Bool(zone.HeaterField()); heater {
		return model.ModeHeat
	}
	return model.ModeCool
}

// Validate rejects a requested mode outside the zone's capability set.
func Validate(zone model.Zone, mode model.Mode) error {
	if !zone.Supports(mode) {
		return fmt.Errorf("%w: %s does not support %q", ErrCapabilityViolation, zone.Name, mode)
	}
	return nil
}
