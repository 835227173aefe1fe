package jobqueue

import "time"

// Config controls queue naming, retry policy, retention and the worker pool.
type Config struct {
	Name               string
	Concurrency        int
	MaxAttempts        int
	BackoffBase        time.Duration
	PollInterval       time.Duration
	LeaseDuration      time.Duration
	ReapInterval       time.Duration
	CompletedRetention int
	FailedRetention    int
}

func DefaultConfig() Config {
	return Config{
		Name:               "rewards",
		Concurrency:        5,
		MaxAttempts:        3,
		BackoffBase:        time.Second,
		PollInterval:       500 * time.Millisecond,
		LeaseDuration:      time.Minute,
		ReapInterval:       15 * time.Second,
		CompletedRetention: 1000,
		FailedRetention:    5000,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaults.LeaseDuration
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = defaults.ReapInterval
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = defaults.CompletedRetention
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = defaults.FailedRetention
	}
	return c
}

// Backoff returns the delay before the retry that follows the given attempt:
// base, 2*base, 4*base and so on.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return c.BackoffBase * time.Duration(1<<(attempt-1))
}
