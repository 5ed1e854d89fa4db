package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/updraft-io/updraft/internal/archive"
	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/ir"
	"github.com/updraft-io/updraft/internal/logging"
	"github.com/updraft-io/updraft/internal/state"
)

// RunResult summarizes one build run.
type RunResult struct {
	RunID     string
	Plan      *ir.Plan
	Hashes    map[string]ir.ContentHash
	Decisions map[string]Decision
	Outcomes  map[string]*UnitOutcome
	Rules     []RuleOutcome
	DryRun    bool
	Duration  time.Duration
}

// Count returns how many units ended the run in the given status.
func (r *RunResult) Count(status UnitStatus) int {
	n := 0
	for _, out := range r.Outcomes {
		if out.Status == status {
			n++
		}
	}
	return n
}

// FailedRules returns how many permission rules failed.
func (r *RunResult) FailedRules() int {
	n := 0
	for _, rule := range r.Rules {
		if rule.State == ir.RuleFailed {
			n++
		}
	}
	return n
}

// Clean reports whether every unit converged and every rule verified.
func (r *RunResult) Clean() bool {
	for _, out := range r.Outcomes {
		switch out.Status {
		case StatusDeployed, StatusUnchanged, StatusPlanned:
		default:
			return false
		}
	}
	return r.FailedRules() == 0
}

// Orchestrator drives a full build run: record load, graph, hashing,
// packaging, deployment, permissions, record flush. It is the only
// writer of the deployment record.
type Orchestrator struct {
	cfg    *config.Config
	client cloud.Client
	store  *state.Store

	FailFast bool
	DryRun   bool
	Verify   bool
	Events   func(DeployEvent)
}

func NewOrchestrator(cfg *config.Config, client cloud.Client, store *state.Store) *Orchestrator {
	return &Orchestrator{cfg: cfg, client: client, store: store}
}

// Run executes the pipeline for one detected manifest. The returned
// error is fatal; partial results are still populated for reporting.
func (o *Orchestrator) Run(ctx context.Context, manifest *ir.Manifest) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.NewString()[:8], DryRun: o.DryRun}

	logging.Info("build started",
		"run", result.RunID,
		"app", o.cfg.AppName,
		"infra", o.cfg.Infra,
		"units", len(manifest.Units),
		"dry_run", o.DryRun)

	record, err := o.store.Read()
	if err != nil {
		return result, err
	}

	graph, err := BuildGraph(manifest)
	if err != nil {
		return result, err
	}
	result.Plan = graph.Plan()

	hashes, preFailed := NewHasher(o.cfg).HashAll(manifest, graph)
	result.Hashes = hashes

	decisions := make(map[string]Decision, len(hashes))
	for id, hash := range hashes {
		entry, _ := record.Entry(id)
		decisions[id] = Decide(hash, entry, true)
	}
	result.Decisions = decisions

	artifacts := make(map[string]*ir.Artifact)
	if !o.DryRun {
		if err := o.store.Lock(result.RunID); err != nil {
			return result, err
		}
		defer o.store.Unlock()

		artifacts = o.packageUnits(ctx, manifest, decisions, preFailed)
	}

	retry := RetryPolicyFromConfig(o.cfg.MaxRetries)
	executor := NewExecutor(o.client, o.cfg, retry)
	executor.FailFast = o.FailFast
	executor.DryRun = o.DryRun
	executor.Verify = o.Verify
	executor.Callback = o.Events

	if !o.DryRun {
		var recordMu sync.Mutex
		executor.OnDeployed = func(unitID string, remote *cloud.RemoteResource) error {
			recordMu.Lock()
			defer recordMu.Unlock()
			record.Put(unitID, &ir.RecordEntry{
				ContentHash:   hashes[unitID],
				RemoteID:      remote.ID,
				RemoteVersion: remote.Version,
				LastSuccess:   time.Now().UTC(),
			})
			return o.store.Write(record)
		}
		executor.OnInvalidated = func(unitID string) {
			recordMu.Lock()
			defer recordMu.Unlock()
			record.Drop(unitID)
			if err := o.store.Write(record); err != nil {
				logging.Warn("could not persist record after invalidation", "unit", unitID, "error", err)
			}
		}
	}

	// The executor reads a snapshot; the callbacks above are the only
	// writers of the live record.
	outcomes, execErr := executor.Run(ctx, manifest, result.Plan, decisions, artifacts, preFailed, record.Clone())
	result.Outcomes = outcomes
	result.Duration = time.Since(start)
	if execErr != nil {
		return result, execErr
	}

	rules := DeriveRules(manifest)
	reconciler := NewReconciler(o.client, o.cfg, retry)
	reconciler.DryRun = o.DryRun
	result.Rules = reconciler.Reconcile(ctx, manifest, rules, outcomes, record)

	if !o.DryRun {
		if err := o.store.Write(record); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(start)
	logging.Info("build finished",
		"run", result.RunID,
		"deployed", result.Count(StatusDeployed),
		"unchanged", result.Count(StatusUnchanged),
		"failed", result.Count(StatusFailed),
		"skipped", result.Count(StatusSkipped),
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// packageUnits builds archives for every unit that needs a deploy.
// Packaging has no ordering constraints, so all units package in
// parallel. Failures land in preFailed and scope to that unit.
func (o *Orchestrator) packageUnits(ctx context.Context, manifest *ir.Manifest, decisions map[string]Decision, preFailed map[string]error) map[string]*ir.Artifact {
	destDir := o.store.ArtifactsDir()
	concurrency := o.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	artifacts := make(map[string]*ir.Artifact)
	failed := make(map[string]error)
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, unit := range manifest.Units {
		if ctx.Err() != nil {
			break
		}
		if unit.Kind == ir.KindRoute {
			continue
		}
		if decisions[unit.ID] != DecisionDeploy {
			continue
		}
		if _, bad := preFailed[unit.ID]; bad {
			continue
		}

		wg.Add(1)
		go func(unit *ir.Unit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			artifact, err := archive.Build(unit, destDir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[unit.ID] = err
				return
			}
			artifacts[unit.ID] = artifact
		}(unit)
	}
	wg.Wait()

	for id, err := range failed {
		logging.Error("packaging failed", "unit", id, "error", err)
		preFailed[id] = err
	}
	return artifacts
}
