package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "badgeauth",
	Short: "Authentication service for the badge platform",
	Long: `badgeauth federates GitHub, Google and Discord logins, issues RS256
platform tokens and verifies them for the rest of the badge platform.

Configuration is read from the environment.`,
	SilenceUsage: true,
}

// SetVersion is called from main with the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "badgeauth version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
