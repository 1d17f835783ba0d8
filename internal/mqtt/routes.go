package mqtt

import (
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connect")
	ErrPublishFailed    = errors.New("mqtt: publish")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe")
	ErrBadArgument      = errors.New("mqtt: bad argument")
)

// Gateway snapshots and accessory payloads are a few hundred bytes.
const maxPayloadSize = 64 << 10

// MessageHandler is invoked on paho's goroutine for each live message. Returned errors are
// logged.
type MessageHandler func(topic string, payload []byte) error

// route is one topic filter the client keeps subscribed across reconnects.
type route struct {
	filter  string
	qos     byte
	handler MessageHandler
}

func checkArgs(topic string, qos byte) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty topic", ErrBadArgument)
	case qos > maxQoS:
		return fmt.Errorf("%w: qos %d", ErrBadArgument, qos)
	}
	return nil
}

// await waits for token and tags any failure with op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack within %v", op, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// Publish sends payload and waits for the broker's ack.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkArgs(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload on %s", ErrBadArgument, len(payload), topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe routes messages matching filter to handler and re-subscribes after every
// reconnect. A second call for the same filter replaces the handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkArgs(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrBadArgument, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	r := route{filter: filter, qos: qos, handler: handler}
	c.subMu.Lock()
	c.routes[filter] = r
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		delete(c.routes, filter)
		c.subMu.Unlock()
		return err
	}
	log.Debug().Str("filter", filter).Uint8("qos", qos).Msg("Subscribed")
	return nil
}

// Routes is the number of filters restored on reconnect.
func (c *Client) Routes() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.routes)
}

// QoS is the configured default quality of service.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg)
	}
}

// deliver hands live messages to handler. Retained messages replay whatever a publisher
// left behind before we subscribed, which for write topics would re-run stale commands;
// status topics are re-broadcast by the gateway anyway.
func (c *Client) deliver(handler MessageHandler, msg pahomqtt.Message) {
	if msg.Retained() {
		log.Debug().Str("topic", msg.Topic()).Msg("Ignoring retained MQTT message")
		return
	}
	c.dispatch(handler, msg.Topic(), msg.Payload())
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", topic).Interface("panic", r).Msg("MQTT handler panic recovered")
		}
	}()

	if err := handler(topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT handler returned error")
	}
}
