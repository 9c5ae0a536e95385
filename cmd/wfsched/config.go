package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"wfsched/internal/config"
)

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the config file, including WFSCHED_* overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return err
		}
		sc, err := cfg.Storage.Resolve()
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok (storage=%s, workflows=%d, jobs=%d)\n",
			cfgPath, sc.Driver, len(cfg.Workflows), len(cfg.Jobs))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wfsched %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
