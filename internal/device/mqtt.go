package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/mqtt"
)

const (
	statusBuffer = 8
	errorBuffer  = 16
)

type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MQTTController implements Controller against a gateway reachable over MQTT.
type MQTTController struct {
	transport Transport
	root      string
	qos       byte

	statuses chan *model.Snapshot
	errs     chan error

	mu      sync.Mutex
	pending map[string]chan Ack

	now func() time.Time
}

func NewMQTTController(transport Transport, root string, qos byte) *MQTTController {
	return &MQTTController{
		transport: transport,
		root:      root,
		qos:       qos,
		statuses:  make(chan *model.Snapshot, statusBuffer),
		errs:      make(chan error, errorBuffer),
		pending:   make(map[string]chan Ack),
		now:       time.Now,
	}
}

// Start subscribes to the gateway topics.
func (c *MQTTController) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{StatusTopic(c.root), c.handleStatus},
		{ErrorTopic(c.root), c.handleError},
		{AckTopic(c.root), c.handleAck},
	}
	for _, s := range subs {
		if err := c.transport.Subscribe(s.topic, c.qos, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}
	log.Info().Str("topic", c.root).Msg("Listening for controller status")
	return nil
}

func (c *MQTTController) Statuses() <-chan *model.Snapshot { return c.statuses }
func (c *MQTTController) Errors() <-chan error             { return c.errs }

func (c *MQTTController) handleStatus(_ string, payload []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		c.pushError(fmt.Errorf("%w: %w", ErrMalformedStatus, err))
		return nil
	}
	snap := model.NewSnapshot(fields, c.now())

	select {
	case c.statuses <- snap:
		return nil
	default:
	}

	// Only the newest status matters; make room by discarding the oldest.
	select {
	case <-c.statuses:
	default:
	}
	select {
	case c.statuses <- snap:
	default:
	}
	log.Warn().Msg("Status consumer is behind, dropped a stale snapshot")
	return nil
}

func (c *MQTTController) handleError(_ string, payload []byte) error {
	c.pushError(fmt.Errorf("%w: %s", ErrDeviceReported, strings.TrimSpace(string(payload))))
	return nil
}

func (c *MQTTController) pushError(err error) {
	select {
	case c.errs <- err:
	default:
		log.Warn().Err(err).Msg("Error channel full, dropping controller error")
	}
}

func (c *MQTTController) handleAck(_ string, payload []byte) error {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}

	c.mu.Lock()
	ch, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("id", ack.ID).Msg("Ack for unknown or expired command")
		return nil
	}
	ch <- ack
	return nil
}

func (c *MQTTController) ToggleAux(ctx context.Context, index int) error {
	return c.send(ctx, CommandToggleAux, map[string]any{"aux": index})
}

func (c *MQTTController) ToggleHeater(ctx context.Context, zone model.ZoneName) error {
	return c.send(ctx, CommandToggleHeater, map[string]any{"zone": string(zone)})
}

func (c *MQTTController) SetZoneTemp(ctx context.Context, zone model.ZoneName, value float64) error {
	return c.send(ctx, CommandSetZoneTemp, map[string]any{"zone": string(zone), "temperature": value})
}

func (c *MQTTController) SetTime(ctx context.Context, hour, minute int) error {
	return c.send(ctx, CommandSetTime, map[string]any{"hour": hour, "minute": minute})
}

// send publishes a command and blocks until the gateway acknowledges it or ctx ends.
func (c *MQTTController) send(ctx context.Context, name string, args map[string]any) error {
	cmd := Command{ID: uuid.NewString(), Command: name, Args: args}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	ch := make(chan Ack, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.transport.Publish(CommandTopic(c.root), payload, c.qos, false); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	log.Debug().Str("id", cmd.ID).Str("command", name).Interface("args", args).Msg("Command sent")

	select {
	case ack := <-ch:
		if !ack.OK {
			return fmt.Errorf("%w: %s: %s", ErrCommandRejected, name, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await ack for %s: %w", name, ctx.Err())
	}
}

// Pending is the number of commands awaiting an ack.
func (c *MQTTController) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
