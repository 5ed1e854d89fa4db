package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updraft-io/updraft/providers/aws"
)

var (
	configEnv   string
	configCheck bool
)

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Show the resolved configuration",
	Long: `Config prints the effective configuration after defaults, the
.updraft file, any environment variant, and UPDRAFT_* environment
variables are merged. With --check it also verifies the credentials
and execution role against the platform.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configEnv, "env", "", "Environment variant (reads .updraft.<env>)")
	configCmd.Flags().BoolVar(&configCheck, "check", false, "Validate the configuration against the platform")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadProject(args, configEnv)
	if err != nil {
		return err
	}

	fmt.Printf("Project: %s (%s)\n\n", cfg.AppName, root)
	fmt.Printf("  aws_account_id            = %s\n", cfg.AccountID)
	fmt.Printf("  aws_region                = %s\n", cfg.Region)
	fmt.Printf("  lambda_runtime            = %s\n", cfg.Runtime)
	fmt.Printf("  lambda_role               = %s\n", cfg.RoleARN())
	fmt.Printf("  infra                     = %s\n", cfg.Infra)
	fmt.Printf("  layer_path                = %s\n", cfg.LayerPath)
	fmt.Printf("  api_path                  = %s\n", cfg.APIPath)
	fmt.Printf("  api_public_path           = %s\n", cfg.APIPublicPath)
	fmt.Printf("  layer_compatible_runtimes = %s\n", cfg.LayerRuntimes)
	fmt.Printf("  artifact_bucket           = %s\n", cfg.ArtifactBucket)
	fmt.Printf("  log_retention_days        = %d\n", cfg.LogRetentionDays)
	fmt.Printf("  concurrency               = %d\n", cfg.Concurrency)
	fmt.Printf("  max_retries               = %d\n", cfg.MaxRetries)

	if !configCheck {
		return nil
	}

	fmt.Print("\nChecking configuration... ")
	if err := cfg.Validate(); err != nil {
		fmt.Println("FAILED")
		return err
	}

	client, err := aws.NewClient(cmd.Context(), cfg)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	if err := client.Preflight(cmd.Context()); err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")
	return nil
}
