package interlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/compool-bridge/internal/heating"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/status"
)

type fakeCommander struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	block bool
	delay time.Duration
}

func (f *fakeCommander) do(ctx context.Context, call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.fail[call]
	block, delay := f.block, f.delay
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeCommander) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCommander) ToggleAux(ctx context.Context, index int) error {
	return f.do(ctx, fmt.Sprintf("aux:%d", index))
}

func (f *fakeCommander) ToggleHeater(ctx context.Context, zone model.ZoneName) error {
	return f.do(ctx, "heater:"+string(zone))
}

func (f *fakeCommander) SetZoneTemp(ctx context.Context, zone model.ZoneName, value float64) error {
	return f.do(ctx, fmt.Sprintf("temp:%s:%.0f", zone, value))
}

func (f *fakeCommander) SetTime(ctx context.Context, hour, minute int) error {
	return f.do(ctx, fmt.Sprintf("time:%02d:%02d", hour, minute))
}

type fakeJournal struct {
	mu      sync.Mutex
	records []model.CommandRecord
}

func (j *fakeJournal) Record(_ context.Context, rec model.CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

var (
	testPool = model.Zone{Name: model.ZonePool, PumpAux: 1, Modes: model.DefaultModes(model.ZonePool), MinTemp: 40, MaxTemp: 104}
	testSpa  = model.Zone{Name: model.ZoneSpa, PumpAux: 2, Modes: model.DefaultModes(model.ZoneSpa), MinTemp: 40, MaxTemp: 104}
)

func newStore(fields map[string]any) *status.Store {
	s := status.New()
	s.Update(model.NewSnapshot(fields, time.Now()))
	return s
}

func TestSetAux_NoCommandWhenAlreadyInState(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, newStore(map[string]any{"aux3On": true}))

	outcome, err := seq.SetAux(context.Background(), 3, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Empty(t, cmd.Calls())
}

func TestSetAux_OneToggleWhenDifferent(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, newStore(map[string]any{"aux3On": true}))

	outcome, err := seq.SetAux(context.Background(), 3, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeToggled, outcome)
	assert.Equal(t, []string{"aux:3"}, cmd.Calls())
}

func TestSetAux_NoDataYetTreatsOutputAsOff(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, status.New())

	outcome, err := seq.SetAux(context.Background(), 5, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	_, err = seq.SetAux(context.Background(), 5, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"aux:5"}, cmd.Calls())
}

func TestSetAux_StaleSnapshotDoesNotToggleTwice(t *testing.T) {
	cmd := &fakeCommander{}
	store := newStore(map[string]any{"aux4On": false})
	seq := New(cmd, store)

	_, err := seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)

	outcome, err := seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, []string{"aux:4"}, cmd.Calls())

	// A newer snapshot is the truth again, even if the toggle did not take.
	store.Update(model.NewSnapshot(map[string]any{"aux4On": false}, time.Now()))
	outcome, err = seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeToggled, outcome)
	assert.Equal(t, []string{"aux:4", "aux:4"}, cmd.Calls())
}

// racingCommander delivers a status captured before the toggle took effect while the
// command is still waiting for its ack.
type racingCommander struct {
	*fakeCommander
	store  *status.Store
	fields map[string]any
}

func (r *racingCommander) ToggleAux(ctx context.Context, index int) error {
	r.store.Update(model.NewSnapshot(r.fields, time.Now()))
	return r.fakeCommander.ToggleAux(ctx, index)
}

func TestSetAux_StatusDuringToggleDoesNotToggleTwice(t *testing.T) {
	store := newStore(map[string]any{"aux4On": false})
	cmd := &racingCommander{fakeCommander: &fakeCommander{}, store: store, fields: map[string]any{"aux4On": false}}
	seq := New(cmd, store)

	outcome, err := seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeToggled, outcome)

	outcome, err = seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, []string{"aux:4"}, cmd.Calls())

	store.Update(model.NewSnapshot(map[string]any{"aux4On": true}, time.Now()))
	outcome, err = seq.SetAux(context.Background(), 4, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, []string{"aux:4"}, cmd.Calls())
}

func TestSetAux_ConcurrentRequestsForSameRelayToggleOnce(t *testing.T) {
	cmd := &fakeCommander{delay: 10 * time.Millisecond}
	seq := New(cmd, newStore(map[string]any{"aux6On": false}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := seq.SetAux(context.Background(), 6, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"aux:6"}, cmd.Calls())
}

func TestSetAux_FailureDoesNotRecordExpectation(t *testing.T) {
	cmd := &fakeCommander{fail: map[string]error{"aux:2": errors.New("nak")}}
	seq := New(cmd, newStore(map[string]any{"aux2On": false}))

	_, err := seq.SetAux(context.Background(), 2, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "toggle_aux", cerr.Op)
	assert.Equal(t, "aux:2", cerr.Target)

	cmd.fail = nil
	outcome, err := seq.SetAux(context.Background(), 2, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeToggled, outcome)
}

func TestSetHeatingMode_PumpBeforeHeater(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, newStore(map[string]any{"aux1On": false, "poolHeaterOn": false}))

	require.NoError(t, seq.SetHeatingMode(context.Background(), testPool, model.ModeHeat))
	assert.Equal(t, []string{"aux:1", "heater:pool"}, cmd.Calls())
}

func TestSetHeatingMode_PumpFailureSkipsHeater(t *testing.T) {
	cmd := &fakeCommander{fail: map[string]error{"aux:1": errors.New("bus busy")}}
	seq := New(cmd, newStore(map[string]any{"aux1On": false, "poolHeaterOn": false}))

	err := seq.SetHeatingMode(context.Background(), testPool, model.ModeHeat)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, []string{"aux:1"}, cmd.Calls())
}

func TestSetHeatingMode_HeaterFailureIsReported(t *testing.T) {
	cmd := &fakeCommander{fail: map[string]error{"heater:pool": errors.New("nak")}}
	seq := New(cmd, newStore(map[string]any{"aux1On": true, "poolHeaterOn": false}))

	err := seq.SetHeatingMode(context.Background(), testPool, model.ModeHeat)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, []string{"heater:pool"}, cmd.Calls())
}

func TestSetHeatingMode_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		mode   model.Mode
		want   []string
	}{
		{
			name:   "off stops pump and leaves heater alone",
			fields: map[string]any{"aux1On": true, "poolHeaterOn": true},
			mode:   model.ModeOff,
			want:   []string{"aux:1"},
		},
		{
			name:   "off when already off",
			fields: map[string]any{"aux1On": false, "poolHeaterOn": true},
			mode:   model.ModeOff,
			want:   nil,
		},
		{
			name:   "heat to cool only flips heater",
			fields: map[string]any{"aux1On": true, "poolHeaterOn": true},
			mode:   model.ModeCool,
			want:   []string{"heater:pool"},
		},
		{
			name:   "off to cool starts pump only",
			fields: map[string]any{"aux1On": false, "poolHeaterOn": false},
			mode:   model.ModeCool,
			want:   []string{"aux:1"},
		},
		{
			name:   "already heating",
			fields: map[string]any{"aux1On": true, "poolHeaterOn": true},
			mode:   model.ModeHeat,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &fakeCommander{}
			seq := New(cmd, newStore(tt.fields))
			require.NoError(t, seq.SetHeatingMode(context.Background(), testPool, tt.mode))
			assert.Equal(t, tt.want, cmd.Calls())
		})
	}
}

func TestSetHeatingMode_CoolForSpaIsRejected(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, newStore(map[string]any{"aux2On": false}))

	err := seq.SetHeatingMode(context.Background(), testSpa, model.ModeCool)
	assert.ErrorIs(t, err, heating.ErrCapabilityViolation)
	assert.Empty(t, cmd.Calls())
}

func TestIssue_TimeoutSurfacesAsCommandFailure(t *testing.T) {
	cmd := &fakeCommander{block: true}
	seq := New(cmd, newStore(map[string]any{"aux7On": false}), WithTimeout(20*time.Millisecond))

	_, err := seq.SetAux(context.Background(), 7, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestIssue_JournalAndHook(t *testing.T) {
	cmd := &fakeCommander{fail: map[string]error{"temp:spa:101": errors.New("nak")}}
	journal := &fakeJournal{}
	var hooked []string
	seq := New(cmd, status.New(),
		WithJournal(journal),
		WithRateLimit(1000),
		WithCommandHook(func(op string, err error) {
			hooked = append(hooked, fmt.Sprintf("%s:%v", op, err != nil))
		}),
	)

	require.NoError(t, seq.SetTargetTemp(context.Background(), testPool, 82))
	require.Error(t, seq.SetTargetTemp(context.Background(), testSpa, 101))

	require.Len(t, journal.records, 2)
	assert.Equal(t, "set_zone_temp", journal.records[0].Op)
	assert.Equal(t, "setpoint:pool", journal.records[0].Target)
	assert.True(t, journal.records[0].OK())
	assert.NotEmpty(t, journal.records[0].ID)
	assert.Equal(t, 82.0, journal.records[0].Args["value"])
	assert.False(t, journal.records[1].OK())
	assert.Contains(t, journal.records[1].Error, "nak")

	assert.Equal(t, []string{"set_zone_temp:false", "set_zone_temp:true"}, hooked)
}

func TestSetTargetTemp_Bounds(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, status.New())

	assert.ErrorIs(t, seq.SetTargetTemp(context.Background(), testPool, 120), ErrTemperatureOutOfRange)
	assert.ErrorIs(t, seq.SetTargetTemp(context.Background(), testPool, 20), ErrTemperatureOutOfRange)
	assert.Empty(t, cmd.Calls())

	require.NoError(t, seq.SetTargetTemp(context.Background(), testPool, 84))
	assert.Equal(t, []string{"temp:pool:84"}, cmd.Calls())
}

func TestSetTime(t *testing.T) {
	cmd := &fakeCommander{}
	seq := New(cmd, status.New())

	assert.ErrorIs(t, seq.SetTime(context.Background(), 24, 0), ErrInvalidTime)
	require.NoError(t, seq.SetTime(context.Background(), 9, 5))
	assert.Equal(t, []string{"time:09:05"}, cmd.Calls())
}

func TestSetHeatingMode_ConcurrentWithPumpSwitchDoesNotDeadlock(t *testing.T) {
	cmd := &fakeCommander{delay: time.Millisecond}
	seq := New(cmd, newStore(map[string]any{"aux1On": false, "poolHeaterOn": false}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = seq.SetHeatingMode(context.Background(), testPool, model.ModeHeat)
		}()
		go func(on bool) {
			defer wg.Done()
			_, _ = seq.SetAux(context.Background(), 1, on)
		}(i%2 == 0)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("zone and relay writes deadlocked")
	}
}
