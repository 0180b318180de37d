package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWheel() (*Wheel, *ManualClock) {
	clock := &ManualClock{}
	return NewWheel(clock), clock
}

func TestTimerFiresOnce(t *testing.T) {
	w, clock := newTestWheel()

	fired := 0
	tm := w.NewTimer("T303", func() { fired++ })
	tm.Start(4 * time.Second)

	next, ok := w.RunExpired()
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, next)
	assert.Equal(t, 0, fired)

	clock.Advance(4 * time.Second)
	_, ok = w.RunExpired()
	assert.False(t, ok, "после срабатывания взведенных таймеров быть не должно")
	assert.Equal(t, 1, fired)
	assert.False(t, tm.Pending())

	clock.Advance(10 * time.Second)
	w.RunExpired()
	assert.Equal(t, 1, fired)
}

func TestStartRearmsInsteadOfDuplicating(t *testing.T) {
	w, clock := newTestWheel()

	fired := 0
	tm := w.NewTimer("T310", func() { fired++ })
	tm.Start(time.Second)
	clock.Advance(500 * time.Millisecond)
	tm.Start(time.Second)

	assert.Equal(t, 1, w.Len())

	clock.Advance(600 * time.Millisecond)
	w.RunExpired()
	assert.Equal(t, 0, fired, "переустановленный таймер не должен сработать по старому сроку")

	clock.Advance(400 * time.Millisecond)
	w.RunExpired()
	assert.Equal(t, 1, fired)

	clock.Advance(time.Hour)
	w.RunExpired()
	assert.Equal(t, 1, fired)
}

func TestStopIsIdempotent(t *testing.T) {
	w, clock := newTestWheel()

	fired := false
	tm := w.NewTimer("T308", func() { fired = true })
	tm.Start(time.Second)

	tm.Stop()
	tm.Stop()
	assert.False(t, tm.Pending())
	assert.Equal(t, 0, w.Len())

	clock.Advance(2 * time.Second)
	_, ok := w.RunExpired()
	assert.False(t, ok)
	assert.False(t, fired)
}

func TestEqualDeadlinesFireInInsertionOrder(t *testing.T) {
	w, clock := newTestWheel()

	var order []string
	names := []string{"T301", "T302", "T303", "T304"}
	for _, name := range names {
		name := name
		w.NewTimer(name, func() { order = append(order, name) }).Start(time.Second)
	}

	clock.Advance(time.Second)
	w.RunExpired()
	assert.Equal(t, names, order)
}

func TestCallbackMayRearmOtherTimers(t *testing.T) {
	w, clock := newTestWheel()

	var second *Timer
	secondFired := 0
	second = w.NewTimer("T305", func() { secondFired++ })

	first := w.NewTimer("T304", func() {
		second.Start(time.Second)
	})

	first.Start(time.Second)
	second.Start(time.Second)

	clock.Advance(time.Second)
	next, ok := w.RunExpired()

	assert.Equal(t, 0, secondFired, "таймер, переустановленный в этом проходе, ждет следующего")
	require.True(t, ok)
	assert.Equal(t, time.Second, next)

	clock.Advance(time.Second)
	w.RunExpired()
	assert.Equal(t, 1, secondFired)
}

func TestNegativeDurationPanics(t *testing.T) {
	w, _ := newTestWheel()
	tm := w.NewTimer("T316", func() {})
	assert.Panics(t, func() { tm.Start(-time.Second) })
}

func TestRemaining(t *testing.T) {
	w, clock := newTestWheel()
	tm := w.NewTimer("T317", func() {})

	assert.Zero(t, tm.Remaining())
	tm.Start(60 * time.Second)
	clock.Advance(15 * time.Second)
	assert.Equal(t, 45*time.Second, tm.Remaining())
}
