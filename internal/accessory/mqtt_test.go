package accessory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/mqtt"
)

type message struct {
	payload  []byte
	retained bool
}

type fakeTransport struct {
	mu        sync.Mutex
	published map[string]message
	handler   mqtt.MessageHandler
	filter    string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: map[string]message{}}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	f.published[topic] = message{payload: payload, retained: retained}
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.filter = topic
	f.handler = handler
	return nil
}

func (f *fakeTransport) get(topic string) (message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.published[topic]
	return m, ok
}

func (f *fakeTransport) waitResult(t *testing.T, topic string) result {
	t.Helper()
	var res result
	require.Eventually(t, func() bool {
		m, ok := f.get(topic)
		if !ok {
			return false
		}
		return json.Unmarshal(m.payload, &res) == nil
	}, time.Second, 5*time.Millisecond)
	return res
}

func startedSurface(t *testing.T, fields map[string]any) (*MQTTSurface, *fakeTransport, *Service) {
	t.Helper()
	svc, _, _ := newTestService(fields)
	tr := newFakeTransport()
	s := NewMQTTSurface(svc, tr, "compool-bridge/", 1)
	require.NoError(t, s.Start(context.Background()))
	return s, tr, svc
}

func TestMQTTSurface_StartPublishesInfo(t *testing.T) {
	_, tr, _ := startedSurface(t, nil)

	m, ok := tr.get("compool-bridge/accessory/info")
	require.True(t, ok)
	assert.True(t, m.retained)
	assert.JSONEq(t, `{"manufacturer":"Compool","model":"cp3800","name":"Backyard"}`, string(m.payload))
	assert.Equal(t, "compool-bridge/accessory/#", tr.filter)
}

func TestMQTTSurface_ObservePublishesRetainedState(t *testing.T) {
	s, tr, svc := startedSurface(t, map[string]any{"aux1On": true, "poolHeaterOn": true, "airTemp": 68})

	s.Observe(svc.State())

	m, ok := tr.get("compool-bridge/accessory/thermostat/pool")
	require.True(t, ok)
	assert.True(t, m.retained)
	var zs model.ZoneState
	require.NoError(t, json.Unmarshal(m.payload, &zs))
	assert.Equal(t, model.ModeHeat, zs.CurrentMode)

	m, ok = tr.get("compool-bridge/accessory/switch/1")
	require.True(t, ok)
	assert.Contains(t, string(m.payload), `"on":true`)

	m, ok = tr.get("compool-bridge/accessory/air")
	require.True(t, ok)
	assert.Contains(t, string(m.payload), `"temperature":68`)
}

func TestMQTTSurface_SetMode(t *testing.T) {
	_, tr, _ := startedSurface(t, map[string]any{"aux1On": false})

	topic := "compool-bridge/accessory/thermostat/pool/mode/set"
	require.NoError(t, tr.handler(topic, []byte("heat")))

	res := tr.waitResult(t, "compool-bridge/accessory/thermostat/pool/mode/result")
	assert.True(t, res.OK)
}

func TestMQTTSurface_SetRejected(t *testing.T) {
	_, tr, _ := startedSurface(t, nil)

	require.NoError(t, tr.handler("compool-bridge/accessory/thermostat/spa/mode/set", []byte("cool")))
	res := tr.waitResult(t, "compool-bridge/accessory/thermostat/spa/mode/result")
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "not supported")

	require.NoError(t, tr.handler("compool-bridge/accessory/switch/3/set", []byte("maybe")))
	res = tr.waitResult(t, "compool-bridge/accessory/switch/3/result")
	assert.False(t, res.OK)
}

func TestMQTTSurface_IgnoresNonSetTopics(t *testing.T) {
	_, tr, _ := startedSurface(t, nil)

	require.NoError(t, tr.handler("compool-bridge/accessory/switch/3", []byte(`{"on":true}`)))
	time.Sleep(10 * time.Millisecond)
	_, ok := tr.get("compool-bridge/accessory/switch/3/result")
	assert.False(t, ok)
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "1"} {
		v, err := ParseOnOff(s)
		require.NoError(t, err)
		assert.True(t, v)
	}
	for _, s := range []string{"off", "false", "0"} {
		v, err := ParseOnOff(s)
		require.NoError(t, err)
		assert.False(t, v)
	}
	_, err := ParseOnOff("toggle")
	assert.ErrorIs(t, err, ErrBadRequest)
}
