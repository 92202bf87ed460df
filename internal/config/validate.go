package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adhocore/gronx"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"health.stuck_after_minutes": c.Health.StuckAfterMinutes,
	})
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q must be host:port: %w", c.API.Bind, err)
	}
	if c.API.RateLimitRPS < 0 {
		return errors.New("api.rate_limit_rps must be >= 0 (0 disables rate limiting)")
	}
	if c.API.RateLimitRPS > 0 && c.API.RateLimitBurst < 1 {
		return errors.New("api.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int{
		"queue.default_max_parallel_items": c.Queue.DefaultMaxParallelItems,
		"queue.busy_retry_attempts":        c.Queue.BusyRetryAttempts,
	})
}

func (c *Config) validateCleanup() error {
	if !c.Cleanup.Enabled {
		return nil
	}
	if !gronx.IsValid(c.Cleanup.Schedule) {
		return fmt.Errorf("cleanup.schedule %q is not a valid cron expression", c.Cleanup.Schedule)
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		return errors.New("cleanup.max_age_hours must be positive")
	}
	if c.Cleanup.ProjectID < 0 {
		return errors.New("cleanup.project_id must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
