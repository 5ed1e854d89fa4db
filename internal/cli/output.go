package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/updraft-io/updraft/internal/engine"
	"github.com/updraft-io/updraft/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// renderEvent prints one line per unit as it settles.
func renderEvent(event engine.DeployEvent) {
	switch event.Status {
	case engine.StatusDeployed:
		attempts := ""
		if event.Attempt > 1 {
			attempts = fmt.Sprintf(" after %d attempts", event.Attempt)
		}
		fmt.Printf("  %s+%s %s deployed%s (%s)\n", colorGreen, colorReset, event.UnitID, attempts, event.Duration.Round(time.Millisecond))
	case engine.StatusUnchanged:
		fmt.Printf("  = %s unchanged\n", event.UnitID)
	case engine.StatusPlanned:
		fmt.Printf("  %s>%s %s would deploy\n", colorCyan, colorReset, event.UnitID)
	case engine.StatusFailed:
		fmt.Printf("  %s!%s %s failed: %v\n", colorRed, colorReset, event.UnitID, event.Err)
	case engine.StatusSkipped:
		fmt.Printf("  %s~%s %s skipped\n", colorYellow, colorReset, event.UnitID)
	case engine.StatusCancelled:
		fmt.Printf("  %s~%s %s cancelled\n", colorYellow, colorReset, event.UnitID)
	}
}

// renderSummary prints the final per-status counts and any permission
// problems.
func renderSummary(result *engine.RunResult) {
	fmt.Println()
	if result.DryRun {
		fmt.Printf("Dry run complete! %d to deploy, %d unchanged.\n",
			result.Count(engine.StatusPlanned), result.Count(engine.StatusUnchanged))
		if rules := len(result.Rules); rules > 0 {
			fmt.Printf("Would reconcile %d permission rule(s).\n", rules)
		}
		return
	}

	fmt.Printf("Build complete! %d deployed, %d unchanged, %d failed, %d skipped.\n",
		result.Count(engine.StatusDeployed),
		result.Count(engine.StatusUnchanged),
		result.Count(engine.StatusFailed),
		result.Count(engine.StatusSkipped))

	renderFailures(result)
	renderRules(result)
}

func renderFailures(result *engine.RunResult) {
	var failed []string
	for id, out := range result.Outcomes {
		if out.Status == engine.StatusFailed {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return
	}
	sort.Strings(failed)

	fmt.Println("\nFailed units:")
	for _, id := range failed {
		fmt.Printf("  %s!%s %s: %v\n", colorRed, colorReset, id, result.Outcomes[id].Err)
	}
}

func renderRules(result *engine.RunResult) {
	verified, failed := 0, 0
	for _, rule := range result.Rules {
		switch rule.State {
		case ir.RuleVerified:
			verified++
		case ir.RuleFailed:
			failed++
		}
	}
	if len(result.Rules) == 0 {
		return
	}

	fmt.Printf("Permissions: %d verified, %d failed, %d total.\n", verified, failed, len(result.Rules))
	for _, rule := range result.Rules {
		if rule.State == ir.RuleFailed {
			fmt.Printf("  %s!%s %s -> %s: %v\n", colorRed, colorReset, rule.Rule.Grantee, rule.Rule.Grantor, rule.Err)
		}
	}
}
