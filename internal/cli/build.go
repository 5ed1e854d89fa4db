package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updraft-io/updraft/internal/detect"
	"github.com/updraft-io/updraft/internal/engine"
	"github.com/updraft-io/updraft/internal/provider"
	"github.com/updraft-io/updraft/internal/state"
)

var (
	buildEnv         string
	buildDryRun      bool
	buildFailFast    bool
	buildVerify      bool
	buildConcurrency int
)

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Detect, package and deploy everything that changed",
	Long: `Build detects the project layout, packages every unit whose content
hash changed, deploys them in dependency order, and reconciles invoke
permissions. Unchanged units are not touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildEnv, "env", "", "Environment variant (reads .updraft.<env> and .env.<env>)")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "Report intended actions without calling the platform")
	buildCmd.Flags().BoolVar(&buildFailFast, "fail-fast", false, "Halt remaining batches after the first failure")
	buildCmd.Flags().BoolVar(&buildVerify, "verify", false, "Confirm that unchanged resources still exist remotely")
	buildCmd.Flags().IntVar(&buildConcurrency, "concurrency", 0, "Parallel deployments per batch (defaults to configuration)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadProject(args, buildEnv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if buildConcurrency > 0 {
		cfg.Concurrency = buildConcurrency
	}
	ctx := cmd.Context()

	fmt.Print("Detecting project... ")
	manifest, err := detect.Scan(root, cfg, buildEnv)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Printf("OK (%d units)\n", len(manifest.Units))

	// A dry run never talks to the platform, so it runs against the
	// in-memory backend and works without credentials.
	backend := "aws"
	if buildDryRun {
		backend = "null"
	}
	client, err := provider.NewRegistry().Open(ctx, backend, cfg)
	if err != nil {
		return err
	}

	orch := engine.NewOrchestrator(cfg, client, state.NewStore(root))
	orch.DryRun = buildDryRun
	orch.FailFast = buildFailFast
	orch.Verify = buildVerify
	orch.Events = renderEvent

	if buildDryRun {
		fmt.Println("\nDry run; no resources will be touched.")
	}
	fmt.Println()

	result, err := orch.Run(ctx, manifest)
	if err != nil {
		if result != nil && len(result.Outcomes) > 0 {
			renderSummary(result)
		}
		return err
	}

	renderSummary(result)

	if !result.Clean() {
		return &ExitError{Code: 2, Message: "build completed with failures or skipped units"}
	}
	return nil
}
