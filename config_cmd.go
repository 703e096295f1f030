package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())

	return cmd
}

// configOutput is the JSON schema for `config show --json`. The Sentry DSN
// is reported as set or not, never echoed.
type configOutput struct {
	ConfigPath      string   `json:"config_path"`
	BaseURL         string   `json:"base_url"`
	RequestTimeout  string   `json:"request_timeout"`
	UploadTimeout   string   `json:"upload_timeout"`
	UserAgent       string   `json:"user_agent"`
	DataDir         string   `json:"data_dir"`
	RefreshInterval string   `json:"refresh_interval"`
	IMEIs           []string `json:"imei"`
	PollInterval    string   `json:"poll_interval"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
	LogLevel        string   `json:"log_level"`
	LogFormat       string   `json:"log_format"`
	LogFile         string   `json:"log_file"`
	SentryEnabled   bool     `json:"sentry_enabled"`
	WatchDir        string   `json:"watch_dir"`
	Settle          string   `json:"settle"`
	MaxImageBytes   int64    `json:"max_image_bytes"`
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			r := cc.Cfg

			if !cc.Flags.JSON {
				return config.RenderEffective(r, cc.Out)
			}

			imeis := r.IMEIs
			if imeis == nil {
				imeis = []string{}
			}

			return printJSON(cc.Out, configOutput{
				ConfigPath:      r.ConfigPath,
				BaseURL:         r.BaseURL,
				RequestTimeout:  r.RequestTimeout.String(),
				UploadTimeout:   r.UploadTimeout.String(),
				UserAgent:       r.UserAgent,
				DataDir:         r.DataDir,
				RefreshInterval: r.RefreshInterval.String(),
				IMEIs:           imeis,
				PollInterval:    r.PollInterval.String(),
				ShutdownTimeout: r.ShutdownTimeout.String(),
				LogLevel:        r.Logging.LogLevel,
				LogFormat:       r.Logging.LogFormat,
				LogFile:         r.Logging.LogFile,
				SentryEnabled:   r.Logging.SentryDSN != "",
				WatchDir:        r.WatchDir,
				Settle:          r.Settle.String(),
				MaxImageBytes:   r.MaxImageBytes,
			})
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file",
		Long: `Write a config file listing every setting with its default. The file goes
to --config, $FIELDSYNC_CONFIG, or the platform config directory. An existing
file is never overwritten.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			path := config.DefaultConfigPath()
			if cc.env.ConfigPath != "" {
				path = cc.env.ConfigPath
			}

			if cc.Flags.ConfigPath != "" {
				path = cc.Flags.ConfigPath
			}

			if path == "" {
				return errors.New("cannot determine config path; pass --config")
			}

			if err := config.WriteDefault(path, baseURL); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%s already exists; edit it or remove it first", path)
				}

				return err
			}

			cc.Statusf("Wrote %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "backend base URL to write as api.base_url")

	return cmd
}
