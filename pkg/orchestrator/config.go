package orchestrator

import "time"

// Config tunes the state machine's timing and retry behavior.
type Config struct {
	// PollInterval is the fixed cross-chain status polling cadence.
	PollInterval time.Duration
	// PollGrace extends the transfer deadline before polling gives up and
	// the record fails with a timeout.
	PollGrace time.Duration
	// MaxAttempts bounds retries for the quote, approve and submit phases.
	MaxAttempts int
	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff
	// between phase retries.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxTransferDuration is the in-flight budget applied when an intent
	// carries no deadline of its own.
	MaxTransferDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollGrace <= 0 {
		c.PollGrace = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 10 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Minute
	}
	if c.MaxTransferDuration <= 0 {
		c.MaxTransferDuration = time.Hour
	}
	return c
}

// backoff returns the delay before retry number attempt (0-based),
// doubling from the base and capped at the maximum.
func (c Config) backoff(attempt int) time.Duration {
	d := c.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.RetryMaxDelay {
			return c.RetryMaxDelay
		}
	}
	if d > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return d
}
