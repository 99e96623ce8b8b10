package rtclock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/taskrt/pkg/rtclock"
)

func TestNow_IsMonotonicallyNonDecreasing(t *testing.T) {
	a := rtclock.Now()
	b := rtclock.Now()
	assert.False(t, b.Before(a))
}

func TestInstant_AddAndSub(t *testing.T) {
	a := rtclock.Now()
	b := a.Add(100 * time.Millisecond)
	assert.True(t, b.After(a))
	assert.Equal(t, 100*time.Millisecond, b.Sub(a))
}

func TestInstant_AddSaturatesOnOverflow(t *testing.T) {
	got := rtclock.MaxInstant.Add(time.Hour)
	assert.Equal(t, rtclock.MaxInstant, got)
}

func TestInstant_AddNegativeSubtractsNormally(t *testing.T) {
	a := rtclock.Now().Add(time.Second)
	got := a.Add(-500 * time.Millisecond)
	assert.True(t, got.Before(a))
	assert.Equal(t, 500*time.Millisecond, a.Sub(got))
}

func TestDeadline_NoDeadlineNeverElapses(t *testing.T) {
	assert.False(t, rtclock.NoDeadline.Elapsed())
	assert.False(t, rtclock.NoDeadline.Valid)
}

func TestDeadline_AfterElapsesOncePast(t *testing.T) {
	d := rtclock.After(-time.Second)
	require.True(t, d.Valid)
	assert.True(t, d.Elapsed())
}

func TestDeadline_AfterNotYetElapsed(t *testing.T) {
	d := rtclock.After(time.Hour)
	assert.False(t, d.Elapsed())
}

func TestUntilTimer_ClampsToNonNegative(t *testing.T) {
	past := rtclock.Now().Add(-time.Hour)
	assert.Equal(t, time.Duration(0), rtclock.UntilTimer(past))

	future := rtclock.Now().Add(time.Hour)
	assert.Greater(t, rtclock.UntilTimer(future), time.Duration(0))
}
