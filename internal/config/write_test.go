package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefault_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteDefault(path, "https://api.example.com/api/"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/", cfg.API.BaseURL)
	assert.Equal(t, "30s", cfg.API.RequestTimeout)
}

func TestWriteDefault_WithoutURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, WriteDefault(path, ""))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.API.BaseURL)
}

func TestWriteDefault_NeverOverwrites(t *testing.T) {
	path := writeTestConfig(t, "[api]\nbase_url = \"https://keep.example.com/\"\n")

	err := WriteDefault(path, "https://other.example.com/")
	require.ErrorIs(t, err, ErrConfigExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keep.example.com")
}

func TestWriteDefault_RejectsBadURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	err := WriteDefault(path, "api.example.com")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRenderEffective(t *testing.T) {
	r := &Resolved{
		ConfigPath:      "/etc/fieldsync/config.toml",
		BaseURL:         "https://api.example.com/",
		RequestTimeout:  30 * time.Second,
		UploadTimeout:   time.Minute,
		DataDir:         "/data",
		RefreshInterval: 30 * time.Second,
		IMEIs:           []string{"111", "222"},
		PollInterval:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "auto",
			SentryDSN: "https://secretkey@o1.ingest.sentry.io/2",
		},
		WatchDir:      "/data/intake",
		Settle:        500 * time.Millisecond,
		MaxImageBytes: 102400,
	}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, `base_url         = "https://api.example.com/"`)
	assert.Contains(t, out, `imei             = ["111", "222"]`)
	assert.Contains(t, out, `poll_interval    = "5m0s"`)
	assert.Contains(t, out, "https://***@o1.ingest.sentry.io/2")
	assert.NotContains(t, out, "secretkey")
	assert.Contains(t, out, "max_image_size   = 102400")
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "https://***@host/1", maskDSN("https://key@host/1"))
	assert.Equal(t, "https://host/1", maskDSN("https://host/1"))
	assert.Equal(t, "***", maskDSN("garbage"))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FIELDSYNC_API_URL=https://dotenv.example.com/\nFIELDSYNC_LOG_LEVEL=debug\n"), 0o600))

	t.Setenv(EnvAPIURL, "")
	require.NoError(t, os.Unsetenv(EnvAPIURL))
	t.Setenv(EnvLogLevel, "warn")

	require.NoError(t, LoadDotEnv(path))

	env := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, "https://dotenv.example.com/", env.APIURL)
	assert.Equal(t, "warn", env.LogLevel, "existing variables win over .env")
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	for _, k := range []string{EnvConfig, EnvDataDir, EnvAPIURL, EnvLogLevel} {
		t.Setenv(k, "")
	}

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(testLogger(t)))
}
