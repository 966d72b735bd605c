package monitor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrConfigInvalid reports a configuration the monitor can't run with.
// It is fatal at startup.
var ErrConfigInvalid = errors.New("invalid monitor config")

// Config holds the monitor settings.
type Config struct {
	// Interval between polls.
	Interval time.Duration
	// MinTextLength is the shortest normalized text, in runes, that is
	// emitted. Shorter content is remembered but never announced.
	MinTextLength int
	// Enabled turns the polling loop on. A disabled monitor still accepts
	// Offer.
	Enabled bool
	// HistorySize is how many emitted signatures are remembered beyond the
	// most recent one. 0 remembers only the last emission.
	HistorySize int
	// PrimeOnStart records whatever the source holds when Run starts as
	// already seen, so it isn't announced.
	PrimeOnStart bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Second,
		MinTextLength: 50,
		Enabled:       true,
		HistorySize:   1000,
		PrimeOnStart:  true,
	}
}

// IntervalFromSeconds converts a fractional seconds value to a Duration.
// NaN and infinities map to 0, which Validate rejects.
func IntervalFromSeconds(s float64) time.Duration {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// Validate reports the first invalid field wrapped in ErrConfigInvalid.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrConfigInvalid, c.Interval)
	}
	if c.MinTextLength < 0 {
		return fmt.Errorf("%w: min text length must be >= 0, got %d", ErrConfigInvalid, c.MinTextLength)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size must be >= 0, got %d", ErrConfigInvalid, c.HistorySize)
	}
	return nil
}
