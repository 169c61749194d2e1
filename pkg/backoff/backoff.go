// Package backoff computes retry delays.
package backoff

import (
	"math"
	"time"
)

// Func returns the delay to wait after the given 1-based attempt.
type Func func(attempt int) time.Duration

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial    time.Duration // default: 100ms
	Max        time.Duration // default: 5s
	Multiplier float64       // default: 2
}

// Exponential calculates the delay for an attempt.
// Attempt 1 returns Initial, attempt 2 Initial*Multiplier, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxDelay := 5 * time.Second
	multiplier := 2.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxDelay = cfg.Max
		}
		if cfg.Multiplier > 1 {
			multiplier = cfg.Multiplier
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}

// ExponentialFunc binds cfg into a Func.
func ExponentialFunc(cfg Config) Func {
	return func(attempt int) time.Duration {
		return Exponential(attempt, &cfg)
	}
}

// Constant returns a Func that always waits d.
func Constant(d time.Duration) Func {
	return func(int) time.Duration { return d }
}
