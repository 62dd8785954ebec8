package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signalpush/pkg/config"
	"signalpush/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	env       string
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "signalpush",
		Short:         "Push notification dispatch service",
		Long:          "signalpush stores notification requests, resolves device tokens and delivers them through a push gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.env, "env", config.GetConfigEnv(), "configuration environment (loads config/<env>.yaml)")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "config", "directory holding base.yaml and environment overrides")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newRecentCmd(opts))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	return newRootCmd().Execute()
}

// load reads the configuration and builds the process logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.env, o.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.App.Env = o.env
	return cfg, logger.New(cfg.App.LogLevel, cfg.App.Env), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "signalpush %s (%s)\n", version, commit)
		},
	}
}
