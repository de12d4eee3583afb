package cmd

import (
	"context"
	"errors"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/config"
	"github.com/michaelpento.lv/flashexec/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flashexec",
	Short: "Flash loan executor for arbitrage, liquidation and debt refinancing",
	Long: `flashexec runs flash loan strategies against an Aave V3 style pool.

Scenarios are deployed on a local chain to simulate and preview executions;
the health command reads account data and gas prices from a live node.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flashexec.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	log := utils.InitLogger(utils.LogOptions{Debug: debug, Console: true})
	if err := config.LoadEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env file", zap.Error(err))
	}
}
