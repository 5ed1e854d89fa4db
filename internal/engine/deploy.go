package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/updraft-io/updraft/internal/archive"
	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/ir"
	"github.com/updraft-io/updraft/internal/logging"
)

// UnitStatus is a unit's terminal state for one run.
type UnitStatus string

const (
	StatusPending   UnitStatus = "pending"
	StatusPlanned   UnitStatus = "planned"
	StatusDeployed  UnitStatus = "deployed"
	StatusUnchanged UnitStatus = "unchanged"
	StatusFailed    UnitStatus = "failed"
	StatusSkipped   UnitStatus = "skipped"
	StatusCancelled UnitStatus = "cancelled"
)

// DeploymentClass distinguishes failures worth retrying from failures
// that never resolve on their own.
type DeploymentClass string

const (
	Transient DeploymentClass = "transient"
	Permanent DeploymentClass = "permanent"
)

// DeploymentError is a classified remote failure for one unit, after
// retries are exhausted.
type DeploymentError struct {
	Class    DeploymentClass
	UnitID   string
	Attempts int
	Err      error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploying %s: %s failure after %d attempt(s): %v", e.UnitID, e.Class, e.Attempts, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// UnitOutcome records what happened to one unit during a run.
type UnitOutcome struct {
	UnitID         string
	Status         UnitStatus
	Remote         *cloud.RemoteResource
	Attempts       int
	Err            error
	SkippedBecause string
	Duration       time.Duration
}

// DeployEvent is emitted as units progress, for CLI output.
type DeployEvent struct {
	UnitID   string
	Status   UnitStatus
	Attempt  int
	Duration time.Duration
	Err      error
}

// Executor realizes the build plan against the remote platform, batch
// by batch. Units inside a batch run concurrently up to Concurrency;
// batches never overlap.
type Executor struct {
	client cloud.Client
	cfg    *config.Config
	retry  *RetryPolicy

	FailFast    bool
	DryRun      bool
	Verify      bool
	Concurrency int

	// OnDeployed persists a unit's record entry right after its remote
	// call succeeds. A persistence failure is fatal to the run.
	OnDeployed func(unitID string, remote *cloud.RemoteResource) error
	// OnInvalidated drops a unit's record entry after verification finds
	// the remote resource gone.
	OnInvalidated func(unitID string)
	Callback      func(DeployEvent)
}

func NewExecutor(client cloud.Client, cfg *config.Config, retry *RetryPolicy) *Executor {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		client:      client,
		cfg:         cfg,
		retry:       retry,
		Concurrency: concurrency,
	}
}

// execRun bundles the mutable state of one Run invocation.
type execRun struct {
	manifest  *ir.Manifest
	decisions map[string]Decision
	artifacts map[string]*ir.Artifact
	record    *ir.Record

	mu       sync.Mutex
	outcomes map[string]*UnitOutcome
	halt     bool
	fatal    error
}

// Run walks the plan and returns an outcome for every unit. The error
// is non-nil only for run-fatal conditions: cancellation, a fail-fast
// halt, or a record persistence failure. Per-unit failures live in the
// outcomes.
func (e *Executor) Run(ctx context.Context, manifest *ir.Manifest, plan *ir.Plan, decisions map[string]Decision, artifacts map[string]*ir.Artifact, preFailed map[string]error, record *ir.Record) (map[string]*UnitOutcome, error) {
	run := &execRun{
		manifest:  manifest,
		decisions: decisions,
		artifacts: artifacts,
		record:    record,
		outcomes:  make(map[string]*UnitOutcome, plan.Size()),
	}
	for _, id := range plan.UnitIDs() {
		run.outcomes[id] = &UnitOutcome{UnitID: id, Status: StatusPending}
	}

	for _, batch := range plan.Batches {
		run.mu.Lock()
		halted := run.halt
		fatal := run.fatal
		run.mu.Unlock()
		if halted {
			return run.outcomes, fatal
		}
		if err := ctx.Err(); err != nil {
			e.markCancelled(run)
			return run.outcomes, fmt.Errorf("run cancelled: %w", err)
		}

		e.runBatch(ctx, run, batch, preFailed)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.outcomes, run.fatal
}

func (e *Executor) runBatch(ctx context.Context, run *execRun, batch []string, preFailed map[string]error) {
	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup

	for _, id := range batch {
		unit, ok := run.manifest.Unit(id)
		if !ok {
			e.finish(run, &UnitOutcome{UnitID: id, Status: StatusFailed, Err: fmt.Errorf("unit %s missing from manifest", id)})
			continue
		}

		if err, bad := preFailed[id]; bad {
			e.finish(run, &UnitOutcome{UnitID: id, Status: StatusFailed, Err: err})
			continue
		}

		if cause := e.blockedBy(run, unit); cause != "" {
			e.finish(run, &UnitOutcome{UnitID: id, Status: StatusSkipped, SkippedBecause: cause})
			continue
		}

		wg.Add(1)
		go func(unit *ir.Unit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			e.finish(run, e.deployUnit(ctx, run, unit))
		}(unit)
	}

	wg.Wait()
}

// blockedBy returns the ID of a dependency that did not succeed, or ""
// when all dependencies are satisfied. Dependencies always live in
// earlier batches, so their outcomes are final here.
func (e *Executor) blockedBy(run *execRun, unit *ir.Unit) string {
	run.mu.Lock()
	defer run.mu.Unlock()
	for _, dep := range unit.DependsOn {
		out, ok := run.outcomes[dep]
		if !ok {
			return dep
		}
		switch out.Status {
		case StatusDeployed, StatusUnchanged, StatusPlanned:
		default:
			return dep
		}
	}
	return ""
}

// finish records an outcome, fires the event callback and, when the
// outcome carries a fatal condition, arms the halt flag.
func (e *Executor) finish(run *execRun, out *UnitOutcome) {
	run.mu.Lock()
	run.outcomes[out.UnitID] = out
	if out.Err != nil && e.FailFast && run.fatal == nil {
		run.halt = true
		run.fatal = fmt.Errorf("halting after failure of %s: %w", out.UnitID, out.Err)
	}
	var storeErr *StoreFatalError
	if errors.As(out.Err, &storeErr) && run.fatal == nil {
		run.halt = true
		run.fatal = out.Err
	}
	run.mu.Unlock()

	e.emit(DeployEvent{
		UnitID:   out.UnitID,
		Status:   out.Status,
		Attempt:  out.Attempts,
		Duration: out.Duration,
		Err:      out.Err,
	})
}

// StoreFatalError marks a record persistence failure surfaced through
// a unit outcome. It always halts the run.
type StoreFatalError struct {
	UnitID string
	Err    error
}

func (e *StoreFatalError) Error() string {
	return fmt.Sprintf("persisting record for %s: %v", e.UnitID, e.Err)
}

func (e *StoreFatalError) Unwrap() error {
	return e.Err
}

func (e *Executor) deployUnit(ctx context.Context, run *execRun, unit *ir.Unit) *UnitOutcome {
	start := time.Now()
	out := &UnitOutcome{UnitID: unit.ID}
	defer func() { out.Duration = time.Since(start) }()

	decision := run.decisions[unit.ID]
	if decision == DecisionUnchanged {
		if e.DryRun || !e.Verify || e.confirmRemote(ctx, run, unit) {
			out.Status = StatusUnchanged
			out.Remote = e.recordedRemote(run, unit.ID)
			return out
		}
		// Verification found the resource gone; fall through to deploy.
		if e.OnInvalidated != nil {
			e.OnInvalidated(unit.ID)
		}
	}

	if e.DryRun {
		out.Status = StatusPlanned
		return out
	}

	ops, ok := unitOps[unit.Kind]
	if !ok {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("no deployer registered for kind %s", unit.Kind)
		return out
	}

	// The remote call itself is never severed; cancellation takes
	// effect between retries and between batches.
	callCtx := context.WithoutCancel(ctx)
	var remote *cloud.RemoteResource
	err := RetryWithBackoff(ctx, e.retry, func() error {
		out.Attempts++
		r, err := ops.deploy(e, callCtx, run, unit)
		if err != nil {
			return err
		}
		remote = r
		return nil
	}, cloud.IsTransient)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Status = StatusCancelled
			out.Err = err
			return out
		}
		class := Permanent
		if cloud.IsTransient(err) {
			class = Transient
		}
		out.Status = StatusFailed
		out.Err = &DeploymentError{Class: class, UnitID: unit.ID, Attempts: out.Attempts, Err: err}
		return out
	}

	out.Status = StatusDeployed
	out.Remote = remote
	if e.OnDeployed != nil {
		if err := e.OnDeployed(unit.ID, remote); err != nil {
			out.Status = StatusFailed
			out.Err = &StoreFatalError{UnitID: unit.ID, Err: err}
		}
	}
	return out
}

// confirmRemote checks that the recorded remote resource still exists.
// Read errors keep the unit unchanged rather than forcing a deploy.
func (e *Executor) confirmRemote(ctx context.Context, run *execRun, unit *ir.Unit) bool {
	entry, ok := run.record.Entry(unit.ID)
	if !ok || entry.RemoteID == "" {
		return false
	}
	ok, err := e.client.VerifyResource(ctx, unit.Kind, entry.RemoteID)
	if err != nil {
		logging.Warn("remote verification failed, keeping unit unchanged", "unit", unit.ID, "error", err)
		return true
	}
	return ok
}

// recordedRemote rebuilds a RemoteResource from the record for units
// untouched this run.
func (e *Executor) recordedRemote(run *execRun, unitID string) *cloud.RemoteResource {
	entry, ok := run.record.Entry(unitID)
	if !ok || entry.RemoteID == "" {
		return nil
	}
	return &cloud.RemoteResource{ID: entry.RemoteID, Version: entry.RemoteVersion}
}

// remoteFor resolves a dependency's remote resource: from this run's
// outcomes when it was just deployed, otherwise from the record.
func (e *Executor) remoteFor(run *execRun, unitID string) (*cloud.RemoteResource, error) {
	run.mu.Lock()
	out, ok := run.outcomes[unitID]
	var remote *cloud.RemoteResource
	if ok && out.Remote != nil {
		remote = out.Remote
	}
	run.mu.Unlock()

	if remote == nil {
		remote = e.recordedRemote(run, unitID)
	}
	if remote == nil {
		return nil, fmt.Errorf("no remote resource known for dependency %s", unitID)
	}
	return remote, nil
}

func (e *Executor) markCancelled(run *execRun) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for _, out := range run.outcomes {
		if out.Status == StatusPending {
			out.Status = StatusCancelled
		}
	}
}

func (e *Executor) emit(event DeployEvent) {
	if e.Callback != nil {
		e.Callback(event)
	}
}

// kindOps is the per-kind deployment capability table. Adding a unit
// kind means adding a row, not a switch arm.
type kindOps struct {
	deploy func(e *Executor, ctx context.Context, run *execRun, unit *ir.Unit) (*cloud.RemoteResource, error)
}

var unitOps = map[ir.UnitKind]kindOps{
	ir.KindLayer:    {deploy: (*Executor).deployLayer},
	ir.KindFunction: {deploy: (*Executor).deployFunction},
	ir.KindRoute:    {deploy: (*Executor).deployRoute},
}

func (e *Executor) deployLayer(ctx context.Context, run *execRun, unit *ir.Unit) (*cloud.RemoteResource, error) {
	artifact := run.artifacts[unit.ID]
	if artifact == nil {
		return nil, fmt.Errorf("no artifact packaged for %s", unit.ID)
	}

	spec := cloud.LayerSpec{
		Name:               e.cfg.RemoteName(unit.Name),
		ArchivePath:        artifact.Path,
		CompatibleRuntimes: unit.Config.CompatibleRuntimes,
		Description:        fmt.Sprintf("updraft layer %s (%s)", unit.Name, shortHash(artifact.SHA256)),
	}
	if e.cfg.ArtifactBucket != "" {
		spec.S3Bucket = e.cfg.ArtifactBucket
		spec.S3Key = e.artifactKey(unit, artifact)
	}
	return e.client.CreateOrUpdateLayer(ctx, spec)
}

func (e *Executor) deployFunction(ctx context.Context, run *execRun, unit *ir.Unit) (*cloud.RemoteResource, error) {
	artifact := run.artifacts[unit.ID]
	if artifact == nil {
		return nil, fmt.Errorf("no artifact packaged for %s", unit.ID)
	}

	var layerARNs []string
	for _, dep := range unit.DependsOn {
		depUnit, ok := run.manifest.Unit(dep)
		if !ok || depUnit.Kind != ir.KindLayer {
			continue
		}
		remote, err := e.remoteFor(run, dep)
		if err != nil {
			return nil, err
		}
		layerARNs = append(layerARNs, remote.ID)
	}

	spec := cloud.FunctionSpec{
		Name:             e.cfg.RemoteName(unit.Name),
		Runtime:          unit.Config.Runtime,
		Handler:          unit.Config.Handler,
		Role:             e.cfg.RoleARN(),
		ArchivePath:      artifact.Path,
		CodeSHA256:       artifact.CodeSHA256,
		Environment:      unit.Config.Environment,
		LayerARNs:        layerARNs,
		LogRetentionDays: int32(e.cfg.LogRetentionDays),
	}
	if e.cfg.ArtifactBucket != "" {
		spec.S3Bucket = e.cfg.ArtifactBucket
		spec.S3Key = e.artifactKey(unit, artifact)
	}
	return e.client.CreateOrUpdateFunction(ctx, spec)
}

func (e *Executor) deployRoute(ctx context.Context, run *execRun, unit *ir.Unit) (*cloud.RemoteResource, error) {
	target := unit.Config.TargetFunction
	if target == "" {
		return nil, fmt.Errorf("route %s has no target function", unit.ID)
	}
	remote, err := e.remoteFor(run, target)
	if err != nil {
		return nil, err
	}

	return e.client.CreateOrUpdateApiRoute(ctx, cloud.RouteSpec{
		RouteKey:    unit.RouteKey(),
		FunctionARN: remote.ID,
		Public:      unit.Config.Public,
	})
}

// artifactKey builds the bucket key for a staged archive. The content
// hash in the key makes uploads immutable.
func (e *Executor) artifactKey(unit *ir.Unit, artifact *ir.Artifact) string {
	return path.Join("updraft", e.cfg.AppName, e.cfg.Infra, shortHash(artifact.SHA256)+"-"+archive.FileName(unit.ID))
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
