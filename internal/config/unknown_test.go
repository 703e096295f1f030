package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[api]\nbase_ulr = \"https://x.example.com\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "api.base_ulr"`)
	assert.Contains(t, err.Error(), `did you mean "base_url"`)
}

func TestLoad_UnknownKey_TypoInCapture(t *testing.T) {
	path := writeTestConfig(t, "[capture]\nwatch_dri = \"/tmp\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_dir")
}

func TestLoad_UnknownSection_ReportedOnce(t *testing.T) {
	path := writeTestConfig(t, "[loging]\nlog_level = \"debug\"\nlog_format = \"json\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "loging"`)
	assert.Contains(t, err.Error(), `did you mean "logging"`)
	assert.Equal(t, 1, strings.Count(err.Error(), "unknown config key"))
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[sync]\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_AllReported(t *testing.T) {
	path := writeTestConfig(t, "[api]\nbase_ur = \"\"\n\n[auth]\nrefresh_intervall = \"1m\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_ur")
	assert.Contains(t, err.Error(), "auth.refresh_intervall")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"base_ulr", "base_url", 2},
		{"loging", "logging", 1},
		{"settle", "settle", 0},
		{"तिथि", "तिथी", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	known := knownKeys["logging"]

	assert.Equal(t, "log_level", closestMatch("log_levl", known))
	assert.Equal(t, "sentry_dsn", closestMatch("sentry_dns", known))
	assert.Empty(t, closestMatch("completely_unrelated", known))
}
