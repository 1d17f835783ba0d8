package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownZone = errors.New("unknown zone")
	ErrInvalidMode = errors.New("invalid heating mode")
)

type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff:
		return ModeOff, nil
	case ModeHeat:
		return ModeHeat, nil
	case ModeCool:
		return ModeCool, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type ZoneName string

const (
	ZonePool ZoneName = "pool"
	ZoneSpa  ZoneName = "spa"
)

func ParseZoneName(s string) (ZoneName, error) {
	switch ZoneName(strings.ToLower(strings.TrimSpace(s))) {
	case ZonePool:
		return ZonePool, nil
	case ZoneSpa:
		return ZoneSpa, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownZone, s)
}

// DefaultModes returns the capability set a zone gets when the config does not override it.
// Only the pool has a chiller.
func DefaultModes(name ZoneName) []Mode {
	if name == ZonePool {
		return []Mode{ModeOff, ModeHeat, ModeCool}
	}
	return []Mode{ModeOff, ModeHeat}
}

// Switch is a named auxiliary that belongs to a zone (jets, blower, cleaner).
type Switch struct {
	Name string `json:"name"`
	Aux  int    `json:"aux"`
}

type Zone struct {
	Name     ZoneName `json:"name"`
	Label    string   `json:"label"`
	PumpAux  int      `json:"pump_aux"`
	Switches []Switch `json:"switches"`
	Modes    []Mode   `json:"modes"`
	MinTemp  float64  `json:"min_temp"`
	MaxTemp  float64  `json:"max_temp"`
}

func (z Zone) Supports(m Mode) bool {
	for _, c := range z.Modes {
		if c == m {
			return true
		}
	}
	return false
}

// Field names reported by the controller for a zone.

func (z Zone) PumpField() string        { return AuxField(z.PumpAux) }
func (z Zone) HeaterField() string      { return string(z.Name) + "HeaterOn" }
func (z Zone) DelayField() string       { return string(z.Name) + "Delay" }
func (z Zone) WaterTempField() string   { return string(z.Name) + "WaterTemp" }
func (z Zone) DesiredTempField() string { return "desired" + capitalize(string(z.Name)) + "WaterTemp" }

const (
	MinAux = 1
	MaxAux = 8
)

func AuxField(index int) string {
	return fmt.Sprintf("aux%dOn", index)
}

func ValidAux(index int) bool {
	return index >= MinAux && index <= MaxAux
}

// Relay is an auxiliary output. Its state always comes from the latest snapshot.
type Relay struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Zone  string `json:"zone,omitempty"`
	Pump  bool   `json:"pump,omitempty"`
}

type ZoneState struct {
	Zone        ZoneName `json:"zone"`
	Label       string   `json:"label"`
	CurrentMode Mode     `json:"current_mode"`
	TargetMode  Mode     `json:"target_mode"`
	CurrentTemp float64  `json:"current_temp"`
	TargetTemp  float64  `json:"target_temp"`
}

type RelayState struct {
	Relay
	On bool `json:"on"`
}

// State is everything derived from one snapshot and pushed to the accessory side.
type State struct {
	Zones      []ZoneState  `json:"zones"`
	Relays     []RelayState `json:"relays"`
	AirTemp    float64      `json:"air_temp"`
	ReceivedAt time.Time    `json:"received_at"`
}

func (s State) Zone(name ZoneName) (ZoneState, bool) {
	for _, z := range s.Zones {
		if z.Zone == name {
			return z, true
		}
	}
	return ZoneState{}, false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CommandRecord is one device command as written to the journal.
type CommandRecord struct {
	ID       string         `json:"id"`
	IssuedAt time.Time      `json:"issued_at"`
	Op       string         `json:"op"`
	Target   string         `json:"target"`
	Args     map[string]any `json:"args,omitempty"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

func (c CommandRecord) OK() bool {
	return c.Error == ""
}
