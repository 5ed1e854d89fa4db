package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updraft-io/updraft/internal/detect"
	"github.com/updraft-io/updraft/internal/engine"
)

var graphEnv string

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the unit dependency graph in DOT format",
	Long: `Generates a visual representation of the unit dependency graph in
Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  updraft graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().StringVar(&graphEnv, "env", "", "Environment variant (reads .updraft.<env> and .env.<env>)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadProject(args, graphEnv)
	if err != nil {
		return err
	}

	manifest, err := detect.Scan(root, cfg, graphEnv)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(manifest)
	if err != nil {
		return err
	}

	fmt.Println("digraph updraft {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, unit := range manifest.Units {
		fmt.Printf("  %q;\n", unit.ID)
	}
	fmt.Println()

	for _, unit := range manifest.Units {
		for _, dep := range graph.Dependencies(unit.ID) {
			fmt.Printf("  %q -> %q;\n", unit.ID, dep)
		}
	}

	fmt.Println("}")
	return nil
}
