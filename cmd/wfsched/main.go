package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "wfsched",
	Short: "Workflow scheduler with persistent jobs",
	Long: `wfsched runs shell-command workflows and checks on interval, cron and
one-shot date triggers. Jobs persist in sqlite, postgres or a local file
and survive restarts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("WFSCHED_CONFIG")
	if def == "" {
		def = "./wfsched.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", def, "path to config file (yaml or json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
