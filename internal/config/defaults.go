package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file, except that the backend
// URL must come from the file, FIELDSYNC_API_URL, or --api-url.
const (
	defaultRequestTimeout  = "30s"
	defaultUploadTimeout   = "60s"
	defaultUserAgent       = "fieldsync"
	defaultRefreshInterval = "30s"
	defaultPollInterval    = "5m"
	defaultShutdownTimeout = "30s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultSettle          = "500ms"
	defaultMaxImageSize    = "100KiB"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			RequestTimeout: defaultRequestTimeout,
			UploadTimeout:  defaultUploadTimeout,
			UserAgent:      defaultUserAgent,
		},
		Auth: AuthConfig{
			RefreshInterval: defaultRefreshInterval,
		},
		Sync: SyncConfig{
			PollInterval:    defaultPollInterval,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Capture: CaptureConfig{
			Settle:       defaultSettle,
			MaxImageSize: defaultMaxImageSize,
		},
	}
}
