package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oktaras/ad-marketplace-backend-sub000/config"
	"github.com/oktaras/ad-marketplace-backend-sub000/logging"
)

// cli carries what PersistentPreRunE loaded to the subcommands.
type cli struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	state := &cli{}

	cmd := &cobra.Command{
		Use:          "dealchat",
		Short:        "Anonymous deal chat relay over Telegram topics",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("config")
			v, err := config.New(file)
			if err != nil {
				return err
			}
			for flag, key := range map[string]string{
				"log-level":      "logging.level",
				"log-format":     "logging.format",
				"log-add-source": "logging.add_source",
				"database-url":   "database.url",
			} {
				if f := cmd.Flags().Lookup(flag); f != nil {
					_ = v.BindPFlag(key, f)
				}
			}

			logger, err := logging.FromViper(v)
			if err != nil {
				return err
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			state.v, state.cfg, state.logger = v, cfg, logger
			return nil
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("database-url", "", "Postgres connection string (overrides database.url).")
	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")

	cmd.AddCommand(
		newServeCmd(state),
		newMigrateCmd(state),
		newDiagCmd(state),
		newLinkCmd(state),
		newLinkTokenCmd(state),
		newResyncCmd(state),
	)
	return cmd
}

func (c *cli) requireTelegram() error {
	if c.cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (set %s_TELEGRAM_TOKEN)", config.EnvPrefix)
	}
	return nil
}
