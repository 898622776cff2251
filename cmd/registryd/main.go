// Command registryd serves the self-hosted alternate package registry
// (spec.md §1): a git-backed index, content-addressed blob storage, and
// a pluggable metadata/auth store, fronted by an HTTP API compatible
// with cargo's alternate-registry protocol.
//
// Grounded on _examples/cuemby-warren/cmd/warren/main.go's cobra
// root-command shape: persistent log-level/log-json flags initialized
// via cobra.OnInitialize, subcommands doing the real work in RunE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgecrate/registry/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "registryd",
	Short: "Self-hosted alternate package registry server",
}

func init() {
	rootCmd.PersistentFlags().String("config", "registryd.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func logWarn(msg string, err error) {
	if err != nil {
		log.Errorf(msg, err)
		return
	}
	log.Warn(msg)
}
