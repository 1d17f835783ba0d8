// Package device talks to the serial gateway that owns the Compool port. The gateway
// publishes decoded status frames and accepts commands over MQTT.
package device

import (
	"context"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

// Controller is the pool controller as seen by the bridge: a stream of status snapshots,
// a stream of transport errors, and toggle-style commands that return once acknowledged.
type Controller interface {
	Statuses() <-chan *model.Snapshot
	Errors() <-chan error
	ToggleAux(ctx context.Context, index int) error
	ToggleHeater(ctx context.Context, zone model.ZoneName) error
	SetZoneTemp(ctx context.Context, zone model.ZoneName, value float64) error
	SetTime(ctx context.Context, hour, minute int) error
}

// Command names understood by the gateway.
const (
	CommandToggleAux    = "toggleAux"
	CommandToggleHeater = "toggleHeater"
	CommandSetZoneTemp  = "setZoneTemp"
	CommandSetTime      = "setTime"
)

type Command struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

type Ack struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func StatusTopic(root string) string  { return root + "/status" }
func ErrorTopic(root string) string   { return root + "/error" }
func CommandTopic(root string) string { return root + "/command" }
func AckTopic(root string) string     { return root + "/ack" }
