// Package driver runs the reconciliation loop: every status event from the controller
// refreshes the store, is projected into accessory state, and may trigger a clock
// correction. The loop never sends any other command.
package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/status"
)

type Source interface {
	Statuses() <-chan *model.Snapshot
	Errors() <-chan error
}

type Projector interface {
	StateOf(snap *model.Snapshot) model.State
}

type ClockCorrector interface {
	MaybeCorrect(ctx context.Context, snap *model.Snapshot, now time.Time) (bool, error)
}

// Observer receives every derived state, in order, on the driver goroutine.
type Observer interface {
	Observe(state model.State)
}

type Notifier interface {
	ControllerError(ctx context.Context, err error)
}

type Driver struct {
	source    Source
	store     *status.Store
	projector Projector
	clock     ClockCorrector
	observers []Observer
	notifier  Notifier

	now        func() time.Time
	correcting atomic.Bool
	wg         sync.WaitGroup
}

type Option func(*Driver)

func WithClock(c ClockCorrector) Option { return func(d *Driver) { d.clock = c } }
func WithNotifier(n Notifier) Option    { return func(d *Driver) { d.notifier = n } }
func WithObservers(o ...Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, o...) }
}

func New(source Source, store *status.Store, projector Projector, opts ...Option) *Driver {
	d := &Driver{
		source:    source,
		store:     store,
		projector: projector,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes events until ctx ends or the source closes both streams. It waits for an
// in-flight clock correction before returning.
func (d *Driver) Run(ctx context.Context) error {
	defer d.wg.Wait()

	statuses, errs := d.source.Statuses(), d.source.Errors()
	log.Info().Msg("Reconciliation driver started")

	for statuses != nil || errs != nil {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciliation driver stopping")
			return nil
		case snap, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			d.handleStatus(ctx, snap)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.handleError(ctx, err)
		}
	}
	log.Info().Msg("Controller event streams closed")
	return nil
}

func (d *Driver) handleStatus(ctx context.Context, snap *model.Snapshot) {
	seq := d.store.Update(snap)
	state := d.projector.StateOf(snap)

	log.Debug().Uint64("seq", seq).Float64("air_temp", state.AirTemp).Msg("Status received")

	for _, o := range d.observers {
		o.Observe(state)
	}

	d.maybeCorrectClock(ctx, snap)
}

// maybeCorrectClock runs at most one correction at a time, off the event loop, so a slow
// ack never delays the next status.
func (d *Driver) maybeCorrectClock(ctx context.Context, snap *model.Snapshot) {
	if d.clock == nil || !d.correcting.CompareAndSwap(false, true) {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.correcting.Store(false)

		if _, err := d.clock.MaybeCorrect(ctx, snap, d.now()); err != nil {
			log.Error().Err(err).Msg("Clock correction failed")
		}
	}()
}

func (d *Driver) handleError(ctx context.Context, err error) {
	log.Error().Err(err).Msg("Controller reported an error")
	if d.notifier == nil {
		return
	}
	// Notifiers make network calls; status ingestion must not wait on them.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.notifier.ControllerError(ctx, err)
	}()
}
