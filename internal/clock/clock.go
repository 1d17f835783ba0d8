package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

const (
	// Below this the difference is polling latency, not drift.
	MinSkewMinutes = 3

	// A raw difference this large is a midnight wraparound (23:58 vs 00:02), not real drift.
	MaxSkewMinutes = 22 * 60
)

type TimeSetter interface {
	SetTime(ctx context.Context, hour, minute int) error
}

type Corrector struct {
	loc    *time.Location
	setter TimeSetter
	onSkew func(minutes int)
}

// New returns a corrector for the IANA timezone. An empty timezone yields a corrector that
// never acts.
func New(timezone string, setter TimeSetter) (*Corrector, error) {
	c := &Corrector{setter: setter}
	if timezone == "" {
		return c, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	c.loc = loc
	return c, nil
}

// OnSkew registers a callback that receives every measured skew.
func (c *Corrector) OnSkew(fn func(minutes int)) {
	c.onSkew = fn
}

func (c *Corrector) Enabled() bool {
	return c != nil && c.loc != nil
}

// Skew is the absolute difference in minutes between two times of day, without any
// wraparound handling.
func Skew(localHour, localMinute, deviceHour, deviceMinute int) int {
	d := (localHour*60 + localMinute) - (deviceHour*60 + deviceMinute)
	if d < 0 {
		d = -d
	}
	return d
}

func ShouldCorrect(skew int) bool {
	return skew > MinSkewMinutes && skew < MaxSkewMinutes
}

// MaybeCorrect sets the controller clock to local time when it has drifted. It reports
// whether a correction was sent. Failures are returned, never retried here.
func (c *Corrector) MaybeCorrect(ctx context.Context, snap *model.Snapshot, now time.Time) (bool, error) {
	if !c.Enabled() || snap == nil {
		return false, nil
	}

	devHour, okH := snap.Number("hour")
	devMinute, okM := snap.Number("minute")
	if !okH || !okM {
		return false, nil
	}

	local := now.In(c.loc)
	skew := Skew(local.Hour(), local.Minute(), int(devHour), int(devMinute))
	if c.onSkew != nil {
		c.onSkew(skew)
	}

	if !ShouldCorrect(skew) {
		if skew >= MaxSkewMinutes {
			log.Debug().Int("skew_minutes", skew).Msg("Ignoring clock skew across midnight")
		}
		return false, nil
	}

	log.Info().
		Int("skew_minutes", skew).
		Str("device_time", fmt.Sprintf("%02d:%02d", int(devHour), int(devMinute))).
		Str("local_time", local.Format("15:04")).
		Msg("Correcting controller clock")

	if err := c.setter.SetTime(ctx, local.Hour(), local.Minute()); err != nil {
		return false, fmt.Errorf("correct clock: %w", err)
	}
	return true, nil
}
