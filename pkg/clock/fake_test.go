package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AfterFuncFiresOnce(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)

	fired := 0
	c.AfterFunc(time.Second, func() { fired++ })

	c.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, fired)

	c.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Equal(t, start.Add(time.Hour+time.Second), c.Now())
}

func TestFake_EveryFiresPerPeriod(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var seen []time.Time
	s := c.Every(time.Second, func() { seen = append(seen, c.Now()) })

	c.Advance(3500 * time.Millisecond)
	assert.Len(t, seen, 3)
	assert.Equal(t, time.Unix(2, 0), seen[1])

	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	c.Advance(10 * time.Second)
	assert.Len(t, seen, 3)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := 0
	var again func()
	again = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(time.Second, again)
		}
	}
	c.AfterFunc(time.Second, again)

	c.Advance(5 * time.Second)
	assert.Equal(t, 3, fired)
}

func TestReal_EveryStops(t *testing.T) {
	c := Real()
	ticks := make(chan struct{}, 10)
	s := c.Every(5*time.Millisecond, func() { ticks <- struct{}{} })

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
}
