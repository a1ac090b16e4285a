package main

import (
	"fmt"
	"os"

	"crmconsole/internal/config"
	"crmconsole/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Schema-driven CRM console: grids, boards and forms over REST collections",
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console API (and the dev collection backend with --dev-backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		if err := initLogger(cfg); err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Load screens and catalogs and report schema issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		if err := config.ApplyFlags(cmd.Flags(), &cfg); err != nil {
			return err
		}
		return runLint(cmd.OutOrStdout(), cfg)
	},
}

func configPath(cmd *cobra.Command) string {
	p, err := cmd.Flags().GetString("config")
	if err != nil {
		return ""
	}
	return p
}

func initLogger(cfg config.Config) error {
	l, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, lintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
