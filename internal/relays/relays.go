package relays

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/interlock"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

var ErrUnknownRelay = errors.New("unknown auxiliary relay")

type StatusReader interface {
	Bool(name string) bool
}

type Setter interface {
	SetAux(ctx context.Context, index int, desired bool) (interlock.Outcome, error)
}

// Reconciler exposes the auxiliary relays. A zone pump is the same relay as any other aux;
// it just carries the zone's name.
type Reconciler struct {
	status StatusReader
	setter Setter
	relays map[int]model.Relay
}

// New builds the relay table. Generic names come first; zone pumps and zone switches
// override the name of the aux they are wired to.
func New(status StatusReader, setter Setter, names map[int]string, zones []model.Zone) *Reconciler {
	r := &Reconciler{
		status: status,
		setter: setter,
		relays: make(map[int]model.Relay),
	}
	for i, name := range names {
		if model.ValidAux(i) {
			r.relays[i] = model.Relay{Index: i, Name: name}
		}
	}
	for _, z := range zones {
		for _, sw := range z.Switches {
			r.relays[sw.Aux] = model.Relay{Index: sw.Aux, Name: sw.Name, Zone: string(z.Name)}
		}
		label := z.Label
		if label == "" {
			label = string(z.Name)
		}
		r.relays[z.PumpAux] = model.Relay{Index: z.PumpAux, Name: label + " Pump", Zone: string(z.Name), Pump: true}
	}
	return r
}

func (r *Reconciler) Relay(index int) (model.Relay, error) {
	if !model.ValidAux(index) {
		return model.Relay{}, fmt.Errorf("%w: %d", ErrUnknownRelay, index)
	}
	relay, ok := r.relays[index]
	if !ok {
		relay = model.Relay{Index: index, Name: fmt.Sprintf("Aux %d", index)}
	}
	return relay, nil
}

func (r *Reconciler) State(index int) (bool, error) {
	if !model.ValidAux(index) {
		return false, fmt.Errorf("%w: %d", ErrUnknownRelay, index)
	}
	return r.status.Bool(model.AuxField(index)), nil
}

func (r *Reconciler) Set(ctx context.Context, index int, desired bool) error {
	if !model.ValidAux(index) {
		return fmt.Errorf("%w: %d", ErrUnknownRelay, index)
	}
	outcome, err := r.setter.SetAux(ctx, index, desired)
	if err != nil {
		return err
	}
	log.Debug().Int("aux", index).Bool("on", desired).Str("outcome", outcome.String()).Msg("Relay set")
	return nil
}

// List returns the configured relays with their current state, ordered by index.
func (r *Reconciler) List() []model.RelayState {
	return r.list(r.status.Bool)
}

// ListFrom is List evaluated against one specific snapshot.
func (r *Reconciler) ListFrom(snap *model.Snapshot) []model.RelayState {
	return r.list(func(name string) bool {
		on, _ := snap.Bool(name)
		return on
	})
}

func (r *Reconciler) list(read func(name string) bool) []model.RelayState {
	out := make([]model.RelayState, 0, len(r.relays))
	for _, relay := range r.relays {
		out = append(out, model.RelayState{Relay: relay, On: read(model.AuxField(relay.Index))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
