package main

import (
	"github.com/spf13/cobra"

	"github.com/celer-network/go-bridge-relayer/config"
	"github.com/celer-network/go-bridge-relayer/log"
)

const (
	flagConfig = "config"
)

var (
	logger = log.NewLogger("cmd")
	cfg    *config.Config
)

func main() {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:   "relayer",
		Short: "ethereum to substrate bridge relayer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString(flagConfig)
			if err != nil {
				return err
			}
			cfg, err = config.Load(path)
			return err
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		runCommand(),
		checkpointCommand(),
		journalCommand(),
	)

	rootCmd.PersistentFlags().String(flagConfig, "./relayer.toml", "config path")
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal().Err(err).Send()
	}
}
