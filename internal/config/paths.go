package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "fieldsync"
	configFileName = "config.toml"
)

// baseDir describes where one kind of application directory lives: the XDG
// variable that overrides it and the path under $HOME used otherwise.
type baseDir struct {
	xdgVar   string
	fallback []string
}

var (
	configBase = baseDir{xdgVar: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataBase   = baseDir{xdgVar: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// resolve returns the fieldsync directory for goos under home. macOS keeps
// config and data together in Application Support. XDG variables are only
// honored on Linux.
func (b baseDir) resolve(goos, home string) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if goos == "linux" {
		if xdg := os.Getenv(b.xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, b.fallback...), appName)...)
}

func (b baseDir) dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return b.resolve(runtime.GOOS, home)
}

// DefaultConfigDir returns the directory holding config.toml.
func DefaultConfigDir() string { return configBase.dir() }

// DefaultDataDir returns the directory holding the case database, photos,
// the token file and logs.
func DefaultDataDir() string { return dataBase.dir() }

// DefaultConfigPath is the config file used when neither FIELDSYNC_CONFIG
// nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
