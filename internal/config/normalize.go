package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFiles are loaded before environment fallbacks are read. Variables already
// present in the process environment win.
var envFiles = []string{".env"}

func (c *Config) normalize() error {
	loadEnvFiles()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeQueue()
	c.normalizeCleanup()
	if c.Health.StuckAfterMinutes <= 0 {
		c.Health.StuckAfterMinutes = defaultStuckAfterMinutes
	}
	c.normalizeLogging()
	return nil
}

func loadEnvFiles() {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv(apiTokenEnv); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	if c.API.RateLimitBurst <= 0 && c.API.RateLimitRPS > 0 {
		c.API.RateLimitBurst = defaultRateLimitBurst
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.DefaultMaxParallelItems <= 0 {
		c.Queue.DefaultMaxParallelItems = defaultMaxParallelItems
	}
	if c.Queue.BusyRetryAttempts <= 0 {
		c.Queue.BusyRetryAttempts = defaultBusyRetryAttempts
	}
}

func (c *Config) normalizeCleanup() {
	c.Cleanup.Schedule = strings.TrimSpace(c.Cleanup.Schedule)
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = defaultCleanupSchedule
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		c.Cleanup.MaxAgeHours = defaultCleanupMaxAgeHours
	}
	if c.Cleanup.DeadLetterAfterAttempts < 0 {
		c.Cleanup.DeadLetterAfterAttempts = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
