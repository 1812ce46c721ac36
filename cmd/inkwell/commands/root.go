package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// configPath is shared by all subcommands via the global --config flag
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell - collaborative whiteboard client",
	Long: `Inkwell is a headless client for real-time collaborative whiteboards.

It keeps a CRDT document in sync with other participants over WebRTC data
channels, discovers peers through a shared Redis-backed session store, and
persists document snapshots locally and to the host.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "inkwell.yml", "path to the configuration file")
}
