package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "updraft",
	Short: "Zero-configuration serverless deployment",
	Long: `Updraft packages and deploys serverless applications from directory
conventions alone: layers/ holds shared dependency layers, api/ holds
one directory per endpoint. There is no manifest and no templates.

Each run detects the project, hashes every unit's content, packages
only what changed, deploys in dependency order, and reconciles the
invoke permissions implied by the project structure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
