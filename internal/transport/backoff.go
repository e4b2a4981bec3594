package transport

import (
	"math/rand"
	"time"
)

// BackoffConfig spaces redial attempts. A zero InitialDelay retries
// immediately.
type BackoffConfig struct {
	InitialDelay time.Duration
	// Multiplier grows the delay per attempt. Values below 1 hold it flat.
	Multiplier float64
	// MaxDelay caps the un-jittered delay when positive.
	MaxDelay time.Duration
	// Jitter scales each delay by a factor in [0.5, 1.5).
	Jitter bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the wait before attempt+1, where attempt counts
// from 1. The first delay is never jittered.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	growth := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= growth
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if !cfg.Jitter {
		return time.Duration(delay)
	}
	factor := 0.5
	if rng != nil {
		factor += rng.Float64()
	}
	return time.Duration(delay * factor)
}
