// Package accessory is the smart-home facing side of the bridge: thermostats per zone,
// a switch per auxiliary relay and an air temperature sensor.
package accessory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/heating"
	"github.com/thatsimonsguy/compool-bridge/internal/interlock"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/relays"
	"github.com/thatsimonsguy/compool-bridge/internal/status"
)

const (
	Manufacturer = "Compool"
	Model        = "cp3800"
)

type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Name         string `json:"name"`
}

type Service struct {
	name   string
	zones  []model.Zone
	store  *status.Store
	seq    *interlock.Sequencer
	relays *relays.Reconciler
}

func NewService(name string, zones []model.Zone, store *status.Store, seq *interlock.Sequencer, r *relays.Reconciler) *Service {
	return &Service{name: name, zones: zones, store: store, seq: seq, relays: r}
}

func (s *Service) Info() Info {
	return Info{Manufacturer: Manufacturer, Model: Model, Name: s.name}
}

func (s *Service) Zones() []model.Zone {
	return s.zones
}

func (s *Service) zone(name model.ZoneName) (model.Zone, error) {
	for _, z := range s.zones {
		if z.Name == name {
			return z, nil
		}
	}
	return model.Zone{}, fmt.Errorf("%w: %s", model.ErrUnknownZone, name)
}

func (s *Service) Thermostat(name model.ZoneName) (model.ZoneState, error) {
	z, err := s.zone(name)
	if err != nil {
		return model.ZoneState{}, err
	}
	snap, _ := s.store.Current()
	return heating.Resolve(z, snap), nil
}

func (s *Service) Switch(index int) (model.RelayState, error) {
	relay, err := s.relays.Relay(index)
	if err != nil {
		return model.RelayState{}, err
	}
	on, err := s.relays.State(index)
	if err != nil {
		return model.RelayState{}, err
	}
	return model.RelayState{Relay: relay, On: on}, nil
}

func (s *Service) Switches() []model.RelayState {
	return s.relays.List()
}

// AirTemperature is 0 until the controller has reported one.
func (s *Service) AirTemperature() float64 {
	return s.store.Number("airTemp")
}

// State derives the full accessory view from the latest snapshot.
func (s *Service) State() model.State {
	snap, _ := s.store.Current()
	return s.StateOf(snap)
}

func (s *Service) StateOf(snap *model.Snapshot) model.State {
	st := model.State{
		Zones:      make([]model.ZoneState, 0, len(s.zones)),
		Relays:     s.relays.ListFrom(snap),
		ReceivedAt: snap.ReceivedAt(),
	}
	for _, z := range s.zones {
		st.Zones = append(st.Zones, heating.Resolve(z, snap))
	}
	st.AirTemp, _ = snap.Number("airTemp")
	return st
}

func (s *Service) SetTargetMode(ctx context.Context, name model.ZoneName, mode model.Mode) error {
	z, err := s.zone(name)
	if err != nil {
		return err
	}
	return s.seq.SetHeatingMode(ctx, z, mode)
}

func (s *Service) SetTargetTemp(ctx context.Context, name model.ZoneName, value float64) error {
	z, err := s.zone(name)
	if err != nil {
		return err
	}
	return s.seq.SetTargetTemp(ctx, z, value)
}

func (s *Service) SetSwitch(ctx context.Context, index int, on bool) error {
	return s.relays.Set(ctx, index, on)
}

func (s *Service) Identify() {
	log.Info().Str("name", s.name).Msg("Identify requested")
}
