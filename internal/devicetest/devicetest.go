// Package devicetest provides an in-memory device.Controller for tests.
package devicetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

// Controller records every command and lets tests push status and error events. Commands
// named in Fail return that error; when Block is set they wait for ctx instead.
type Controller struct {
	mu    sync.Mutex
	calls []string
	Fail  map[string]error
	Block bool

	statuses chan *model.Snapshot
	errs     chan error
}

func New() *Controller {
	return &Controller{
		Fail:     map[string]error{},
		statuses: make(chan *model.Snapshot, 16),
		errs:     make(chan error, 16),
	}
}

func (c *Controller) Statuses() <-chan *model.Snapshot { return c.statuses }
func (c *Controller) Errors() <-chan error             { return c.errs }

func (c *Controller) PushStatus(fields map[string]any) {
	c.statuses <- model.NewSnapshot(fields, time.Now())
}

func (c *Controller) PushError(err error) {
	c.errs <- err
}

// Close ends both event streams.
func (c *Controller) Close() {
	close(c.statuses)
	close(c.errs)
}

func (c *Controller) SetFail(call string, err error) {
	c.mu.Lock()
	c.Fail[call] = err
	c.mu.Unlock()
}

func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Controller) do(ctx context.Context, call string) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	err := c.Fail[call]
	block := c.Block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (c *Controller) ToggleAux(ctx context.Context, index int) error {
	return c.do(ctx, fmt.Sprintf("aux:%d", index))
}

func (c *Controller) ToggleHeater(ctx context.Context, zone model.ZoneName) error {
	return c.do(ctx, "heater:"+string(zone))
}

func (c *Controller) SetZoneTemp(ctx context.Context, zone model.ZoneName, value float64) error {
	return c.do(ctx, fmt.Sprintf("temp:%s:%g", zone, value))
}

func (c *Controller) SetTime(ctx context.Context, hour, minute int) error {
	return c.do(ctx, fmt.Sprintf("time:%02d:%02d", hour, minute))
}

// Zones is the pool and spa layout used across tests: pool pump on aux1 with a cleaner on
// aux5, spa pump on aux2 with jets on aux3.
func Zones() []model.Zone {
	return []model.Zone{
		{
			Name: model.ZonePool, Label: "Pool", PumpAux: 1,
			Switches: []model.Switch{{Name: "Cleaner", Aux: 5}},
			Modes:    model.DefaultModes(model.ZonePool),
			MinTemp:  40, MaxTemp: 104,
		},
		{
			Name: model.ZoneSpa, Label: "Spa", PumpAux: 2,
			Switches: []model.Switch{{Name: "Jets", Aux: 3}},
			Modes:    model.DefaultModes(model.ZoneSpa),
			MinTemp:  40, MaxTemp: 104,
		},
	}
}
