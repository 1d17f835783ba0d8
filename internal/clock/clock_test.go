package clock

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

type fakeSetter struct {
	calls [][2]int
	err   error
}

func (f *fakeSetter) SetTime(_ context.Context, hour, minute int) error {
	f.calls = append(f.calls, [2]int{hour, minute})
	return f.err
}

func deviceAt(hour, minute int) *model.Snapshot {
	return model.NewSnapshot(map[string]any{"hour": hour, "minute": minute}, time.Now())
}

func TestSkew(t *testing.T) {
	assert.Equal(t, 1436, Skew(23, 58, 0, 2))
	assert.Equal(t, 10, Skew(10, 0, 10, 10))
	assert.Equal(t, 2, Skew(10, 0, 10, 2))
	assert.Equal(t, 0, Skew(7, 30, 7, 30))
}

func TestShouldCorrect(t *testing.T) {
	assert.False(t, ShouldCorrect(2))
	assert.False(t, ShouldCorrect(3))
	assert.True(t, ShouldCorrect(4))
	assert.True(t, ShouldCorrect(1319))
	assert.False(t, ShouldCorrect(1320))
	assert.False(t, ShouldCorrect(1436))
}

func TestMaybeCorrect(t *testing.T) {
	tests := []struct {
		name      string
		localH    int
		localM    int
		deviceH   int
		deviceM   int
		corrected bool
	}{
		{name: "wraparound across midnight is not corrected", localH: 23, localM: 58, deviceH: 0, deviceM: 2},
		{name: "ten minutes of drift is corrected", localH: 10, localM: 0, deviceH: 10, deviceM: 10, corrected: true},
		{name: "two minutes is jitter", localH: 10, localM: 0, deviceH: 10, deviceM: 2},
		{name: "device behind by an hour", localH: 14, localM: 30, deviceH: 13, deviceM: 30, corrected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setter := &fakeSetter{}
			c, err := New("UTC", setter)
			require.NoError(t, err)

			now := time.Date(2024, 6, 1, tt.localH, tt.localM, 0, 0, time.UTC)
			corrected, err := c.MaybeCorrect(context.Background(), deviceAt(tt.deviceH, tt.deviceM), now)
			require.NoError(t, err)
			assert.Equal(t, tt.corrected, corrected)

			if tt.corrected {
				assert.Equal(t, [][2]int{{tt.localH, tt.localM}}, setter.calls)
			} else {
				assert.Empty(t, setter.calls)
			}
		})
	}
}

func TestMaybeCorrect_ProjectsIntoTimezone(t *testing.T) {
	setter := &fakeSetter{}
	c, err := New("America/New_York", setter)
	require.NoError(t, err)

	var measured []int
	c.OnSkew(func(m int) { measured = append(measured, m) })

	// 16:00 UTC is 12:00 in New York during daylight saving time.
	now := time.Date(2024, 7, 1, 16, 0, 0, 0, time.UTC)
	corrected, err := c.MaybeCorrect(context.Background(), deviceAt(12, 0), now)
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Equal(t, []int{0}, measured)

	corrected, err = c.MaybeCorrect(context.Background(), deviceAt(11, 50), now)
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.Equal(t, [][2]int{{12, 0}}, setter.calls)
}

func TestMaybeCorrect_Disabled(t *testing.T) {
	setter := &fakeSetter{}
	c, err := New("", setter)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	corrected, err := c.MaybeCorrect(context.Background(), deviceAt(1, 0), time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Empty(t, setter.calls)
}

func TestMaybeCorrect_MissingFieldsOrSnapshot(t *testing.T) {
	setter := &fakeSetter{}
	c, err := New("UTC", setter)
	require.NoError(t, err)

	corrected, err := c.MaybeCorrect(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.False(t, corrected)

	corrected, err = c.MaybeCorrect(context.Background(), model.NewSnapshot(map[string]any{"hour": 3}, time.Now()), time.Now())
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Empty(t, setter.calls)
}

func TestMaybeCorrect_FailureIsReported(t *testing.T) {
	setter := &fakeSetter{err: errors.New("no ack")}
	c, err := New("UTC", setter)
	require.NoError(t, err)

	corrected, err := c.MaybeCorrect(context.Background(), deviceAt(10, 10), time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	assert.Error(t, err)
	assert.False(t, corrected)
	assert.Len(t, setter.calls, 1)
}

func TestNew_BadTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", &fakeSetter{})
	assert.Error(t, err)
}
