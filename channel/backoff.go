package channel

import "time"

// BackoffStrategy defines how to handle reconnection delays
type BackoffStrategy interface {
	// NextDelay returns the delay before the next reconnection attempt
	NextDelay(attempt int) time.Duration

	// Reset resets the backoff strategy after a successful connection
	Reset()
}

// ExponentialBackoff implements exponential backoff with a ceiling
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	// Ensure attempt is at least 0
	if attempt < 0 {
		attempt = 0
	}

	// Base delay is always InitialDelay
	delay := float64(eb.InitialDelay)

	// Calculate exponential multiplier: Multiplier^attempt
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= eb.Multiplier
	}

	// Apply multiplier to initial delay
	result := time.Duration(delay * multiplier)

	// Cap at MaxDelay
	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}

	return result
}

func (eb *ExponentialBackoff) Reset() {
	// Nothing to reset for exponential backoff
}

// DefaultBackoff returns the backoff used when none is configured:
// 1s initial, doubling, capped at 30s.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}
