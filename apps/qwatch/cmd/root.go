package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qsdk"
)

type contextKey string

const (
	configContextKey contextKey = "qwatchconfig"
	loggerContextKey contextKey = "qwatchlogger"
)

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"base-url":        qsdk.BaseUrlKey,
	"variant":         qsdk.VariantKey,
	"poll-interval":   qsdk.PollIntervalKey,
	"request-timeout": qsdk.RequestTimeoutKey,
	"log-level":       qsdk.LogLevelKey,
}

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "qwatch",
		Short: "Submit inference runs and follow them stage by stage",
		Long: `qwatch submits a request to a staged inference service, polls the run
until it reaches a terminal status and prints the outcome: the probability
panel for COMPLETED runs, the failing stage for FAILED runs and the missing
fields for DATA_MISSING runs.

It also ships a simulator of the service (qwatch serve) for local work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := bindFlags(cmd, cfg); err != nil {
				return err
			}

			level, err := qlog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := qlog.NewLogger(level, cmd.ErrOrStderr())

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			ctx = context.WithValue(ctx, loggerContextKey, logger)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// bindFlags binds the flags the command knows under their config keys and
// re-decodes the config so they take effect.
func bindFlags(cmd *cobra.Command, cfg *qsdk.Config) error {
	v := cfg.Viper()
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return cfg.Reload()
}

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// GetLogger retrieves the logger from the command context, the default
// logger when none was set.
func GetLogger(cmd *cobra.Command) *qlog.Logger {
	if l, ok := cmd.Context().Value(loggerContextKey).(*qlog.Logger); ok {
		return l
	}
	return qlog.NewDefault()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(rootCmd.ErrOrStderr(), err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: qwatch.yaml, .qwatch/config.yaml")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL of the inference service (overrides config)")
	rootCmd.PersistentFlags().String("variant", "", "Pipeline variant (tabular, branched, image); defaults to the one the service announces")
	rootCmd.PersistentFlags().Duration("poll-interval", 0, "Status polling interval (default 500ms)")
	rootCmd.PersistentFlags().Duration("request-timeout", 0, "Timeout of each HTTP request, 0 for none")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}
