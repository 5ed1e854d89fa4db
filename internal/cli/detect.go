package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/updraft-io/updraft/internal/detect"
	"github.com/updraft-io/updraft/internal/engine"
	"github.com/updraft-io/updraft/internal/ir"
)

var (
	detectEnv    string
	detectOutput string
)

var detectCmd = &cobra.Command{
	Use:   "detect [path]",
	Short: "Show what the project conventions resolve to",
	Long: `Detect scans the project directories and prints the units that a
build would operate on, together with the batched execution plan. It
never touches the platform or the deployment record.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectEnv, "env", "", "Environment variant (reads .updraft.<env> and .env.<env>)")
	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "text", "Output format: text, json or yaml")
}

// detectReport is the structured output of the detect command.
type detectReport struct {
	App   string       `json:"app" yaml:"app"`
	Root  string       `json:"root" yaml:"root"`
	Env   string       `json:"env,omitempty" yaml:"env,omitempty"`
	Units []*ir.Unit   `json:"units" yaml:"units"`
	Plan  *ir.Plan     `json:"plan" yaml:"plan"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadProject(args, detectEnv)
	if err != nil {
		return err
	}

	manifest, err := detect.Scan(root, cfg, detectEnv)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(manifest)
	if err != nil {
		return err
	}
	plan := graph.Plan()

	report := detectReport{
		App:   cfg.AppName,
		Root:  root,
		Env:   detectEnv,
		Units: manifest.Units,
		Plan:  plan,
	}

	switch detectOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(report)
	case "text":
		renderDetect(report)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", detectOutput)
	}
}

func renderDetect(report detectReport) {
	fmt.Printf("Project: %s (%s)\n\n", report.App, report.Root)

	fmt.Printf("Units (%d):\n", len(report.Units))
	for _, unit := range report.Units {
		line := fmt.Sprintf("  %-32s", unit.ID)
		if unit.SourceDir != "" {
			line += " " + unit.SourceDir
		}
		if len(unit.DependsOn) > 0 {
			line += "  <- " + strings.Join(unit.DependsOn, ", ")
		}
		fmt.Println(line)
	}

	fmt.Println("\nPlan:")
	for i, batch := range report.Plan.Batches {
		fmt.Printf("  %d. %s\n", i+1, strings.Join(batch, ", "))
	}
}
