package simdevice

import (
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

const testRate = beep.SampleRate(100)

func TestDevice_AdvanceFiresInOrder(t *testing.T) {
	d := New()
	var fired []string
	d.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "c") })
	d.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	d.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "b") })

	d.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 200*time.Millisecond, d.Now())

	d.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, d.PendingTimers())
}

func TestDevice_CallbackSeesEventTime(t *testing.T) {
	d := New()
	var at time.Duration
	d.AfterFunc(250*time.Millisecond, func() { at = d.Now() })
	d.Advance(time.Second)
	assert.Equal(t, 250*time.Millisecond, at)
}

func TestDevice_NestedTimers(t *testing.T) {
	d := New()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			d.AfterFunc(0, tick)
		}
	}
	d.AfterFunc(0, tick)
	d.Advance(0)
	assert.Equal(t, 3, count)
}

func TestDevice_StopTimer(t *testing.T) {
	d := New()
	fired := false
	stop := d.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, stop())
	assert.False(t, stop())
	d.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestBus_OnEnded(t *testing.T) {
	d := New()
	out := d.NewOutput(audio.ModeBufferSource)
	bus := out.NewBus()

	ended := false
	bus.Schedule(Ramp(testRate, 500*time.Millisecond), time.Second, func() { ended = true })

	d.Advance(1400 * time.Millisecond)
	assert.False(t, ended)
	d.Advance(100 * time.Millisecond)
	assert.True(t, ended)
}

func TestBus_CloseSuppressesOnEnded(t *testing.T) {
	d := New()
	out := d.NewOutput(audio.ModeBufferSource)
	bus := out.NewBus()

	ended := false
	bus.Schedule(Ramp(testRate, time.Second), 0, func() { ended = true })
	bus.Close()
	bus.Schedule(Ramp(testRate, time.Second), 0, nil)

	d.Advance(2 * time.Second)
	assert.False(t, ended)

	sim := out.(*Output)
	assert.Len(t, sim.Scheduled(), 1)
	assert.Empty(t, sim.Live())
}

func TestBus_WorkletQueuesBackToBack(t *testing.T) {
	d := New()
	out := d.NewOutput(audio.ModeWorklet)
	bus := out.NewBus()

	bus.Schedule(Ramp(testRate, time.Second), 0, nil)
	bus.Schedule(Ramp(testRate, time.Second), 500*time.Millisecond, nil)

	items := out.(*Output).Scheduled()
	require.Len(t, items, 2)
	assert.Equal(t, time.Second, items[1].At)
}

func TestOutput_Gain(t *testing.T) {
	d := New()
	out := d.NewOutput(audio.ModeBufferSource)
	assert.Equal(t, 1.0, out.Gain())
	out.SetGain(0)
	assert.Equal(t, 0.0, out.Gain())
}

func TestRamp_OffsetOf(t *testing.T) {
	buf := Ramp(testRate, 2500*time.Millisecond)
	assert.Equal(t, 250, buf.Len())

	slice := beep.NewBuffer(buf.Format())
	slice.Append(buf.Streamer(testRate.N(time.Second), testRate.N(2*time.Second)))
	assert.Equal(t, time.Second, OffsetOf(slice))
}
