package simdevice

import (
	"math"
	"time"

	"github.com/gopxl/beep/v2"
)

// Ramp samples are 16-bit, the precision chunk stores persist. Each sample
// index owns a bucket of rampStep quantization levels so that re-encoding a
// slice a few times (beep.Buffer stores PCM bytes) never moves it into a
// neighbouring index. This limits a ramp to 4095 distinct samples.
const (
	rampPrecision = 2
	rampStep      = 8
)

var rampScale = math.Exp2(rampPrecision*8-1) - 1

// Ramp returns a stereo buffer of length d whose n-th sample encodes n on
// both channels, so any slice of it reveals where it was cut from.
// Samples past the 4095th repeat the last index.
func Ramp(sr beep.SampleRate, d time.Duration) *beep.Buffer {
	n := sr.N(d)
	buf := beep.NewBuffer(beep.Format{SampleRate: sr, NumChannels: 2, Precision: rampPrecision})

	i := 0
	buf.Append(beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if i >= n {
			return 0, false
		}
		k := 0
		for k < len(samples) && i < n {
			v := rampValue(i)
			samples[k] = [2]float64{v, v}
			k++
			i++
		}
		return k, true
	}))
	return buf
}

func rampValue(i int) float64 {
	if last := int(rampScale)/rampStep - 1; i > last {
		i = last
	}
	return float64(i*rampStep+rampStep/2) / rampScale
}

func rampIndex(v float64) int {
	return int(math.Round(v*rampScale)) / rampStep
}

// OffsetOf returns where a slice of a Ramp buffer starts, or -1 for an
// empty buffer.
func OffsetOf(buf *beep.Buffer) time.Duration {
	if buf.Len() == 0 {
		return -1
	}
	var first [1][2]float64
	buf.Streamer(0, 1).Stream(first[:])
	return buf.Format().SampleRate.D(rampIndex(first[0][0]))
}

// IndexOf returns the ramp sample index a rendered sample value encodes.
func IndexOf(v float64) int {
	return rampIndex(v)
}
