package behavior

import (
	"math"
	"time"
)

const (
	DefaultFastFloor    = 600 * time.Millisecond
	DefaultUniformFloor = 0.10

	minFastIntervals    = 2
	minUniformIntervals = 4
)

// Timing summarizes the inter-arrival intervals of one tracking key.
type Timing struct {
	Intervals int
	Mean      time.Duration
	CV        float64 // stddev / mean
	Fast      bool
	Uniform   bool
}

// AnalyzeIntervals derives the behavioural flags from consecutive
// inter-arrival intervals. Human timing is irregular and comparatively
// slow; scripted polling is fast and regular.
func AnalyzeIntervals(intervals []time.Duration, fastFloor time.Duration, uniformFloor float64) Timing {
	t := Timing{Intervals: len(intervals)}
	if len(intervals) == 0 {
		return t
	}
	var sum float64
	for _, d := range intervals {
		sum += float64(d)
	}
	mean := sum / float64(len(intervals))

	var sq float64
	for _, d := range intervals {
		delta := float64(d) - mean
		sq += delta * delta
	}
	stddev := math.Sqrt(sq / float64(len(intervals)))

	t.Mean = time.Duration(mean)
	if mean > 0 {
		t.CV = stddev / mean
	}
	t.Fast = len(intervals) >= minFastIntervals && t.Mean < fastFloor
	t.Uniform = len(intervals) >= minUniformIntervals && mean > 0 && t.CV < uniformFloor
	return t
}

// AnalyzeTimestamps is AnalyzeIntervals over consecutive timestamps.
func AnalyzeTimestamps(ts []time.Time, fastFloor time.Duration, uniformFloor float64) Timing {
	if len(ts) < 2 {
		return Timing{}
	}
	intervals := make([]time.Duration, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		d := ts[i].Sub(ts[i-1])
		if d < 0 {
			d = 0
		}
		intervals = append(intervals, d)
	}
	return AnalyzeIntervals(intervals, fastFloor, uniformFloor)
}
