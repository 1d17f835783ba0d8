package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/mqtt"
)

var ErrBadRequest = errors.New("bad accessory request")

type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MQTTSurface mirrors accessory state to retained topics under <prefix>/accessory and
// accepts writes on the matching .../set topics. Each set gets a reply on .../result.
//
//	<prefix>/accessory/info
//	<prefix>/accessory/air
//	<prefix>/accessory/thermostat/<zone>                 state
//	<prefix>/accessory/thermostat/<zone>/mode/set        "heat"
//	<prefix>/accessory/thermostat/<zone>/target-temp/set "82"
//	<prefix>/accessory/switch/<index>                    state
//	<prefix>/accessory/switch/<index>/set                "on" | "off"
type MQTTSurface struct {
	svc       *Service
	transport Transport
	root      string
	qos       byte
	ctx       context.Context
}

func NewMQTTSurface(svc *Service, transport Transport, prefix string, qos byte) *MQTTSurface {
	return &MQTTSurface{
		svc:       svc,
		transport: transport,
		root:      strings.TrimSuffix(prefix, "/") + "/accessory",
		qos:       qos,
		ctx:       context.Background(),
	}
}

// Start publishes the accessory info and subscribes to set topics. Writes run under ctx.
func (m *MQTTSurface) Start(ctx context.Context) error {
	m.ctx = ctx
	if err := m.publishJSON(m.root+"/info", m.svc.Info(), true); err != nil {
		return err
	}
	return m.transport.Subscribe(m.root+"/#", m.qos, m.handle)
}

func (m *MQTTSurface) Observe(state model.State) {
	for _, z := range state.Zones {
		if err := m.publishJSON(fmt.Sprintf("%s/thermostat/%s", m.root, z.Zone), z, true); err != nil {
			log.Warn().Err(err).Str("zone", string(z.Zone)).Msg("Failed to publish thermostat state")
		}
	}
	for _, r := range state.Relays {
		if err := m.publishJSON(fmt.Sprintf("%s/switch/%d", m.root, r.Index), r, true); err != nil {
			log.Warn().Err(err).Int("aux", r.Index).Msg("Failed to publish switch state")
		}
	}
	air := map[string]any{"temperature": state.AirTemp, "received_at": state.ReceivedAt}
	if err := m.publishJSON(m.root+"/air", air, true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish air temperature")
	}
}

func (m *MQTTSurface) publishJSON(topic string, v any, retained bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return m.transport.Publish(topic, b, m.qos, retained)
}

type result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (m *MQTTSurface) handle(topic string, payload []byte) error {
	if !strings.HasSuffix(topic, "/set") {
		return nil
	}
	replyTo := strings.TrimSuffix(topic, "/set") + "/result"

	// Commands wait on acks; keep paho's delivery goroutine free.
	go func() {
		res := result{OK: true}
		if err := m.apply(m.ctx, topic, strings.TrimSpace(string(payload))); err != nil {
			res = result{Error: err.Error()}
			log.Warn().Err(err).Str("topic", topic).Msg("Accessory write failed")
		}
		if err := m.publishJSON(replyTo, res, false); err != nil {
			log.Warn().Err(err).Str("topic", replyTo).Msg("Failed to publish write result")
		}
	}()
	return nil
}

func (m *MQTTSurface) apply(ctx context.Context, topic, value string) error {
	parts := strings.Split(strings.TrimPrefix(topic, m.root+"/"), "/")

	switch {
	case len(parts) == 4 && parts[0] == "thermostat" && parts[2] == "mode":
		zone, err := model.ParseZoneName(parts[1])
		if err != nil {
			return err
		}
		mode, err := model.ParseMode(value)
		if err != nil {
			return err
		}
		return m.svc.SetTargetMode(ctx, zone, mode)

	case len(parts) == 4 && parts[0] == "thermostat" && parts[2] == "target-temp":
		zone, err := model.ParseZoneName(parts[1])
		if err != nil {
			return err
		}
		temp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature %q", ErrBadRequest, value)
		}
		return m.svc.SetTargetTemp(ctx, zone, temp)

	case len(parts) == 3 && parts[0] == "switch":
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("%w: switch %q", ErrBadRequest, parts[1])
		}
		on, err := ParseOnOff(value)
		if err != nil {
			return err
		}
		return m.svc.SetSwitch(ctx, index, on)
	}
	return fmt.Errorf("%w: unknown topic %s", ErrBadRequest, topic)
}

func ParseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: switch value %q", ErrBadRequest, s)
}
