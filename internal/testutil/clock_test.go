package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_NowAdvances(t *testing.T) {
	c := NewFakeClock(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(3 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewFakeClock(epoch)
	var fired []string

	c.AfterFunc(5*time.Second, func() { fired = append(fired, "five") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "two-later") })

	c.Advance(1 * time.Second)
	assert.Empty(t, fired)
	assert.Equal(t, 3, c.Pending())

	c.Advance(4 * time.Second)
	assert.Equal(t, []string{"two", "two-later", "five"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_TimerSeesItsDeadline(t *testing.T) {
	c := NewFakeClock(epoch)
	var seen time.Time

	c.AfterFunc(2*time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)

	assert.Equal(t, epoch.Add(2*time.Second), seen)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
}

func TestFakeClock_TimerScheduledDuringAdvance(t *testing.T) {
	c := NewFakeClock(epoch)
	n := 0

	var tick func()
	tick = func() {
		n++
		c.AfterFunc(4*time.Second, tick)
	}
	c.AfterFunc(4*time.Second, tick)

	c.Advance(12 * time.Second)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, c.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	c := NewFakeClock(epoch)
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
}
