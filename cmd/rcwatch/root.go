package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/rcwatch/internal/config"
	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/version"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "rcwatch",
		Short:         "Complete Rain Classroom videos from the command line",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newWatchCmd(opts),
		newVideosCmd(opts),
		newCoursesCmd(opts),
		newLogsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load merges the configuration for cmd, validates it and configures the
// global logger from it.
func (o *rootOptions) load(cmd *cobra.Command, needClassroom bool) (config.AppConfig, zerolog.Logger, error) {
	xglog.Configure(xglog.Config{
		Output:  cmd.ErrOrStderr(),
		Version: version.Version,
	})
	logger := xglog.WithComponent("cli")

	cfg, err := config.NewLoader(o.configPath).WithFlags(cmd.Flags()).Load()
	if err != nil {
		return config.AppConfig{}, logger, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.AppConfig{}, logger, err
	}
	if needClassroom {
		if err := config.RequireClassroom(cfg); err != nil {
			return config.AppConfig{}, logger, err
		}
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
		Version: version.Version,
	})
	logger = xglog.WithComponent("cli")

	source := "env+defaults"
	if o.configPath != "" {
		source = "file"
	}
	logger.Debug().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", o.configPath).
		Str(xglog.FieldHost, cfg.Host).
		Str("session_id", xglog.Mask(cfg.SessionID)).
		Msg("configuration loaded")
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rcwatch "+version.String())
		},
	}
}
