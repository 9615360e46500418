// Package backoff computes bounded exponential delays with jitter for
// reconnect attempts.
package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RandReader provides https://pkg.go.dev/math/rand#Float64.
type RandReader interface{ Float64() float64 }

// Backoff is a stateless exponential backoff calculator.
type Backoff struct {
	Min        time.Duration // Delay for the first retry. Must be >0 and <=Max.
	Max        time.Duration // Upper bound for any delay.
	Factor     float64       // Exponential growth factor, >1.0.
	Jitter     float64       // Jitter ratio in [0.0, 1.0].
	RandSource RandReader
}

// New validates the parameters and returns a ready calculator. A nil
// randSource gets a default time-seeded source.
func New(min, max time.Duration, factor, jitter float64, randSource RandReader) (Backoff, error) {
	if min <= 0 {
		return Backoff{}, fmt.Errorf("min(%d) must be >0", min)
	}
	if min > max {
		return Backoff{}, fmt.Errorf("min(%s) > max(%s)", min, max)
	}
	if factor <= 1.0 {
		return Backoff{}, fmt.Errorf("factor(%g) must be >1.0", factor)
	}
	if jitter < 0 || jitter > 1 {
		return Backoff{}, fmt.Errorf("jitter(%g) must be >=0.0 && <=1.0", jitter)
	}
	if randSource == nil {
		randSource = rand.New(rand.NewSource(time.Now().Unix() ^ int64(rand.Uint64())))
	}
	return Backoff{Min: min, Max: max, Factor: factor, Jitter: jitter, RandSource: randSource}, nil
}

// Duration returns the delay before retry number attempt.
// Returns 0 when attempt <1 so the first try is immediate.
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	exp := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))
	d := min(time.Duration(exp), b.Max)
	if b.Jitter == 0 {
		return d
	}
	randomJitterFactor := b.RandSource.Float64()*2 - 1 // In [-1.0, 1.0]
	delta := float64(d) * b.Jitter * randomJitterFactor
	return max(d+time.Duration(delta), b.Min)
}
