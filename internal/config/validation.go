package config

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/retry"
)

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if err := c.validateDefaults(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	return c.validateEvents()
}

func (c *Config) validateDefaults() error {
	d, err := time.ParseDuration(c.Defaults.StepTimeout)
	if err != nil {
		return fmt.Errorf("invalid defaults.step_timeout: %s: %w", c.Defaults.StepTimeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("defaults.step_timeout must be positive: %s", c.Defaults.StepTimeout)
	}
	if c.Defaults.OutputCap < 0 {
		return fmt.Errorf("defaults.output_cap cannot be negative: %d", c.Defaults.OutputCap)
	}

	switch retry.BackoffMode(c.Defaults.RetryBackoff) {
	case retry.BackoffFixed, retry.BackoffLinear, retry.BackoffExponential:
	default:
		return fmt.Errorf("invalid defaults.retry_backoff: %s (allowed: fixed|linear|exponential)", c.Defaults.RetryBackoff)
	}

	initDur, err := time.ParseDuration(c.Defaults.RetryInitialDelay)
	if err != nil {
		return fmt.Errorf("invalid defaults.retry_initial_delay: %s: %w", c.Defaults.RetryInitialDelay, err)
	}
	maxDur, err := time.ParseDuration(c.Defaults.RetryMaxDelay)
	if err != nil {
		return fmt.Errorf("invalid defaults.retry_max_delay: %s: %w", c.Defaults.RetryMaxDelay, err)
	}
	if maxDur < initDur {
		return fmt.Errorf("defaults.retry_max_delay (%s) must be >= defaults.retry_initial_delay (%s)",
			c.Defaults.RetryMaxDelay, c.Defaults.RetryInitialDelay)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon == nil {
		return nil
	}
	if c.Daemon.Listen == "" {
		return fmt.Errorf("daemon.listen cannot be empty")
	}
	if c.Daemon.QueueSize <= 0 {
		return fmt.Errorf("daemon.queue_size must be positive: %d", c.Daemon.QueueSize)
	}
	if c.Daemon.Workers <= 0 {
		return fmt.Errorf("daemon.workers must be positive: %d", c.Daemon.Workers)
	}
	if c.Daemon.Workers > 1 && c.Workspace.Persistent {
		return fmt.Errorf("daemon.workers must be 1 when workspace.persistent is set: concurrent runs would share one directory")
	}
	if c.Daemon.History < 0 {
		return fmt.Errorf("daemon.history cannot be negative: %d", c.Daemon.History)
	}
	for i, s := range c.Daemon.Schedules {
		d, err := time.ParseDuration(s.Every)
		if err != nil {
			return fmt.Errorf("invalid daemon.schedules[%d].every: %s: %w", i, s.Every, err)
		}
		if d <= 0 {
			return fmt.Errorf("daemon.schedules[%d].every must be positive: %s", i, s.Every)
		}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events == nil {
		return nil
	}
	if c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url cannot be empty when the events section is present")
	}
	if c.Events.Subject == "" {
		return fmt.Errorf("events.subject cannot be empty")
	}
	return nil
}
