package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "FIELDSYNC_CONFIG"
	EnvDataDir  = "FIELDSYNC_DATA_DIR"
	EnvAPIURL   = "FIELDSYNC_API_URL"
	EnvLogLevel = "FIELDSYNC_LOG_LEVEL"
)

// DotEnvFile is the file LoadDotEnv reads from the working directory.
const DotEnvFile = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // FIELDSYNC_CONFIG: override config file path
	DataDir    string // FIELDSYNC_DATA_DIR: data directory override
	APIURL     string // FIELDSYNC_API_URL: backend base URL override
	LogLevel   string // FIELDSYNC_LOG_LEVEL: log level override
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables that are already set keep their value. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("config: loading %s: %w", path, err)
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		APIURL:     os.Getenv(EnvAPIURL),
		LogLevel:   os.Getenv(EnvLogLevel),
	}

	if logger != nil {
		logger.Debug("environment overrides",
			slog.String("config", o.ConfigPath),
			slog.String("data_dir", o.DataDir),
			slog.String("api_url", o.APIURL),
			slog.String("log_level", o.LogLevel),
		)
	}

	return o
}
