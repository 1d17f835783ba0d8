package interlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thatsimonsguy/compool-bridge/internal/heating"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

const DefaultCommandTimeout = 10 * time.Second

// Commander is the imperative half of the controller. The protocol only knows how to
// toggle outputs, so there is no "set aux on".
type Commander interface {
	ToggleAux(ctx context.Context, index int) error
	ToggleHeater(ctx context.Context, zone model.ZoneName) error
	SetZoneTemp(ctx context.Context, zone model.ZoneName, value float64) error
	SetTime(ctx context.Context, hour, minute int) error
}

type StatusReader interface {
	Bool(name string) bool
	Seq() uint64
}

type Journal interface {
	Record(ctx context.Context, rec model.CommandRecord) error
}

type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeToggled
)

func (o Outcome) String() string {
	if o == OutcomeToggled {
		return "toggled"
	}
	return "unchanged"
}

// Output is a boolean controller output driven by a toggle command.
type Output struct {
	Key    string
	Field  string
	op     string
	toggle func(ctx context.Context, c Commander) error
}

func AuxOutput(index int) Output {
	return Output{
		Key:   fmt.Sprintf("aux:%d", index),
		Field: model.AuxField(index),
		op:    "toggle_aux",
		toggle: func(ctx context.Context, c Commander) error {
			return c.ToggleAux(ctx, index)
		},
	}
}

func HeaterOutput(zone model.ZoneName) Output {
	return Output{
		Key:   "heater:" + string(zone),
		Field: string(zone) + "HeaterOn",
		op:    "toggle_heater",
		toggle: func(ctx context.Context, c Commander) error {
			return c.ToggleHeater(ctx, zone)
		},
	}
}

// expectation is the value an output was toggled to, valid until the store moves past seq.
type expectation struct {
	value bool
	seq   uint64
}

// Sequencer issues controller commands. Commands for the same target are serialised;
// different targets may run concurrently.
type Sequencer struct {
	cmd     Commander
	status  StatusReader
	journal Journal
	limiter *rate.Limiter
	timeout time.Duration
	onCmd   func(op string, err error)

	locks keyedMutex

	expMu    sync.Mutex
	expected map[string]expectation
}

type Option func(*Sequencer)

func WithJournal(j Journal) Option {
	return func(s *Sequencer) { s.journal = j }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit paces commands onto the serial bus. Zero or less disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(s *Sequencer) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithCommandHook(fn func(op string, err error)) Option {
	return func(s *Sequencer) { s.onCmd = fn }
}

func New(cmd Commander, status StatusReader, opts ...Option) *Sequencer {
	s := &Sequencer{
		cmd:      cmd,
		status:   status,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		timeout:  DefaultCommandTimeout,
		expected: make(map[string]expectation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBoolean drives out to desired. When the observed value already matches nothing is sent;
// otherwise exactly one toggle is issued and awaited.
func (s *Sequencer) SetBoolean(ctx context.Context, out Output, desired bool) (Outcome, error) {
	unlock := s.locks.lock(out.Key)
	defer unlock()

	current := s.observed(out.Field)
	if current == desired {
		log.Debug().Str("output", out.Key).Bool("desired", desired).Msg("Output already in desired state")
		return OutcomeUnchanged, nil
	}

	args := map[string]any{"from": current, "to": desired}
	err := s.issue(ctx, out.op, out.Key, args, func(ctx context.Context) error {
		return out.toggle(ctx, s.cmd)
	})
	if err != nil {
		return OutcomeUnchanged, err
	}

	// Statuses that landed while the toggle was in flight may predate it, so only a
	// snapshot newer than the ack retires the expectation.
	s.expMu.Lock()
	s.expected[out.Field] = expectation{value: desired, seq: s.status.Seq()}
	s.expMu.Unlock()
	return OutcomeToggled, nil
}

func (s *Sequencer) SetAux(ctx context.Context, index int, desired bool) (Outcome, error) {
	return s.SetBoolean(ctx, AuxOutput(index), desired)
}

// SetHeatingMode turns the zone pump on or off and only then sets the heater. The heater is
// never commanded unless the pump step succeeded. Off only stops the pump.
func (s *Sequencer) SetHeatingMode(ctx context.Context, zone model.Zone, mode model.Mode) error {
	if err := heating.Validate(zone, mode); err != nil {
		return err
	}

	unlock := s.locks.lock("zone:" + string(zone.Name))
	defer unlock()

	log.Info().Str("zone", string(zone.Name)).Str("mode", string(mode)).Msg("Setting heating mode")

	if _, err := s.SetBoolean(ctx, AuxOutput(zone.PumpAux), mode != model.ModeOff); err != nil {
		return fmt.Errorf("set %s pump: %w", zone.Name, err)
	}
	if mode == model.ModeOff {
		return nil
	}
	if _, err := s.SetBoolean(ctx, HeaterOutput(zone.Name), mode == model.ModeHeat); err != nil {
		return fmt.Errorf("set %s heater: %w", zone.Name, err)
	}
	return nil
}

func (s *Sequencer) SetTargetTemp(ctx context.Context, zone model.Zone, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrTemperatureOutOfRange, value)
	}
	if zone.MaxTemp > zone.MinTemp && (value < zone.MinTemp || value > zone.MaxTemp) {
		return fmt.Errorf("%w: %.1f not within [%.1f, %.1f]", ErrTemperatureOutOfRange, value, zone.MinTemp, zone.MaxTemp)
	}

	target := "setpoint:" + string(zone.Name)
	unlock := s.locks.lock(target)
	defer unlock()

	return s.issue(ctx, "set_zone_temp", target, map[string]any{"value": value}, func(ctx context.Context) error {
		return s.cmd.SetZoneTemp(ctx, zone.Name, value)
	})
}

func (s *Sequencer) SetTime(ctx context.Context, hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}

	unlock := s.locks.lock("clock")
	defer unlock()

	return s.issue(ctx, "set_time", "clock", map[string]any{"hour": hour, "minute": minute}, func(ctx context.Context) error {
		return s.cmd.SetTime(ctx, hour, minute)
	})
}

// observed returns the value to compare against, preferring a pending toggle over a
// snapshot that predates it.
func (s *Sequencer) observed(field string) bool {
	seq := s.status.Seq()

	s.expMu.Lock()
	defer s.expMu.Unlock()
	if e, ok := s.expected[field]; ok {
		if seq <= e.seq {
			return e.value
		}
		delete(s.expected, field)
	}
	return s.status.Bool(field)
}

func (s *Sequencer) issue(ctx context.Context, op, target string, args map[string]any, fn func(context.Context) error) error {
	rec := model.CommandRecord{
		ID:       uuid.NewString(),
		IssuedAt: time.Now(),
		Op:       op,
		Target:   target,
		Args:     args,
	}

	err := s.limiter.Wait(ctx)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(cctx)
		if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrCommandTimeout, s.timeout, err)
		}
		cancel()
	}
	rec.Duration = time.Since(rec.IssuedAt)

	if err != nil {
		rec.Error = err.Error()
		log.Error().Err(err).Str("op", op).Str("target", target).Str("id", rec.ID).Msg("Device command failed")
	} else {
		log.Info().Str("op", op).Str("target", target).Dur("took", rec.Duration).Msg("Device command completed")
	}

	if s.journal != nil {
		if jerr := s.journal.Record(context.WithoutCancel(ctx), rec); jerr != nil {
			log.Warn().Err(jerr).Str("id", rec.ID).Msg("Failed to journal device command")
		}
	}
	if s.onCmd != nil {
		s.onCmd(op, err)
	}

	if err != nil {
		return &CommandError{Op: op, Target: target, Err: err}
	}
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
