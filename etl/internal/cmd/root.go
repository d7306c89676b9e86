package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-etl/common/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "TelHawk users ETL job",
	Long: `etl fetches a batch of synthetic users, validates and stamps them, and
writes them to object storage.

Running etl without a subcommand is the same as "etl run". The process exits
non-zero when the run is aborted.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runPipeline,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $ETL_CONFIG_DIR/config.yaml)")
}

// loadConfig reads .env, the config file and the environment, then validates
// the result. Nothing touches the network before this succeeds.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}
