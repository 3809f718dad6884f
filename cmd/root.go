package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "sim-replay",
	Short: "Record and replay a stepped Schelling segregation simulation",
}

// runCmd runs the model through the replay cache using parameters from the
// config file, the environment and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation, recording every step or replaying a recorded run",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}

		cfg, err := resolveRunConfig(cmd, nil)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		// Verbose diagnostics are logged at info.
		if cfg.Verbose && level < logrus.InfoLevel {
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)

		summary, err := runSimulation(cfg, logrus.StandardLogger())
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		summary.Print(os.Stdout)
		logrus.Info("Simulation complete.")
	},
}

// inspectCmd reports what a cache file holds
var inspectCmd = &cobra.Command{
	Use:   "inspect <cache-file>",
	Short: "Show the status of a cache file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectCache(args[0], os.Stdout); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}
