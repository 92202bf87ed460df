package config

const (
	defaultConfigPath              = "~/.config/queueflow/config.toml"
	projectConfigName              = "queueflow.toml"
	defaultDataDir                 = "~/.local/share/queueflow"
	defaultLogDir                  = "~/.local/share/queueflow/logs"
	defaultAPIBind                 = "127.0.0.1:7788"
	defaultRateLimitRPS            = 5.0
	defaultRateLimitBurst          = 10
	defaultMaxParallelItems        = 1
	defaultPriority                = 5
	defaultBusyRetryAttempts       = 5
	defaultCleanupSchedule         = "0 3 * * *"
	defaultCleanupMaxAgeHours      = 168
	defaultDeadLetterAfterAttempts = 3
	defaultStuckAfterMinutes       = 60
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"

	// apiTokenEnv supplies the bearer token when the config file leaves it empty.
	apiTokenEnv = "QUEUEFLOW_API_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind:           defaultAPIBind,
			RateLimitRPS:   defaultRateLimitRPS,
			RateLimitBurst: defaultRateLimitBurst,
		},
		Queue: Queue{
			DefaultMaxParallelItems: defaultMaxParallelItems,
			DefaultPriority:         defaultPriority,
			BusyRetryAttempts:       defaultBusyRetryAttempts,
		},
		Cleanup: Cleanup{
			Enabled:                 true,
			Schedule:                defaultCleanupSchedule,
			MaxAgeHours:             defaultCleanupMaxAgeHours,
			DeadLetterAfterAttempts: defaultDeadLetterAfterAttempts,
		},
		Health: Health{
			StuckAfterMinutes: defaultStuckAfterMinutes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
