package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/ir"
	"github.com/updraft-io/updraft/internal/logging"
)

// statementPrefix marks policy statements owned by this tool. Statements
// without it are never touched.
const statementPrefix = "updraft-"

const invokeAction = "lambda:InvokeFunction"

// PermissionErrorKind discriminates permission reconciliation failures.
type PermissionErrorKind string

const (
	VerificationFailed   PermissionErrorKind = "verification_failed"
	ConflictingStatement PermissionErrorKind = "conflicting_statement"
)

// PermissionError is a per-rule reconciliation failure. It never aborts
// the run; affected rules are reported failed in the summary.
type PermissionError struct {
	Kind        PermissionErrorKind
	Grantor     string
	StatementID string
	Err         error
}

func (e *PermissionError) Error() string {
	switch e.Kind {
	case ConflictingStatement:
		return fmt.Sprintf("statement %s on %s conflicts with the desired grant: %v", e.StatementID, e.Grantor, e.Err)
	default:
		return fmt.Sprintf("could not verify permissions on %s: %v", e.Grantor, e.Err)
	}
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// RuleOutcome records what happened to one permission rule.
type RuleOutcome struct {
	Rule        ir.PermissionRule
	State       ir.RuleState
	StatementID string
	Err         error
}

// DeriveRules builds the least-privilege rule set from manifest edges:
// every route may invoke its target function, and every function may
// invoke the functions it declares. Nothing else is granted.
func DeriveRules(manifest *ir.Manifest) []ir.PermissionRule {
	var rules []ir.PermissionRule

	for _, unit := range manifest.Units {
		switch unit.Kind {
		case ir.KindRoute:
			if unit.Config.TargetFunction != "" {
				rules = append(rules, ir.PermissionRule{
					Grantor: unit.Config.TargetFunction,
					Grantee: unit.ID,
					Action:  invokeAction,
				})
			}
		case ir.KindFunction:
			for _, dep := range unit.DependsOn {
				depUnit, ok := manifest.Unit(dep)
				if !ok || depUnit.Kind != ir.KindFunction {
					continue
				}
				rules = append(rules, ir.PermissionRule{
					Grantor: dep,
					Grantee: unit.ID,
					Action:  invokeAction,
				})
			}
		}
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Grantor != rules[j].Grantor {
			return rules[i].Grantor < rules[j].Grantor
		}
		return rules[i].Grantee < rules[j].Grantee
	})
	return rules
}

// StatementID derives the deterministic statement identifier for a
// rule. Re-runs always produce the same ID, which is what makes the
// diff against the remote policy possible.
func StatementID(rule ir.PermissionRule) string {
	digest := sha256.Sum256([]byte(rule.Grantor + "|" + rule.Grantee + "|" + rule.Action))
	return statementPrefix + sanitizeSID(rule.Grantee) + "-" + hex.EncodeToString(digest[:4])
}

func sanitizeSID(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Reconciler converges remote resource policies toward the derived rule
// set: missing statements are added, conflicting ones replaced, stale
// owned statements removed, and the result verified by re-reading.
type Reconciler struct {
	client cloud.Client
	cfg    *config.Config
	retry  *RetryPolicy

	DryRun bool
}

func NewReconciler(client cloud.Client, cfg *config.Config, retry *RetryPolicy) *Reconciler {
	return &Reconciler{client: client, cfg: cfg, retry: retry}
}

// Reconcile processes rules grouped by grantor. Rules whose grantor or
// grantee did not deploy are skipped. Failures are recorded per rule
// and never abort the run.
func (r *Reconciler) Reconcile(ctx context.Context, manifest *ir.Manifest, rules []ir.PermissionRule, outcomes map[string]*UnitOutcome, record *ir.Record) []RuleOutcome {
	results := make([]RuleOutcome, 0, len(rules))

	byGrantor := make(map[string][]ir.PermissionRule)
	var grantors []string
	for _, rule := range rules {
		if _, ok := byGrantor[rule.Grantor]; !ok {
			grantors = append(grantors, rule.Grantor)
		}
		byGrantor[rule.Grantor] = append(byGrantor[rule.Grantor], rule)
	}
	sort.Strings(grantors)

	for _, grantor := range grantors {
		results = append(results, r.reconcileGrantor(ctx, manifest, grantor, byGrantor[grantor], outcomes, record)...)
	}
	return results
}

func (r *Reconciler) reconcileGrantor(ctx context.Context, manifest *ir.Manifest, grantor string, rules []ir.PermissionRule, outcomes map[string]*UnitOutcome, record *ir.Record) []RuleOutcome {
	results := make([]RuleOutcome, len(rules))
	for i, rule := range rules {
		results[i] = RuleOutcome{Rule: rule, State: ir.RulePending, StatementID: StatementID(rule)}
	}

	grantorUnit, ok := manifest.Unit(grantor)
	if !ok || !unitSucceeded(outcomes, grantor) {
		for i := range results {
			results[i].State = ir.RuleSkipped
		}
		return results
	}
	grantorName := r.cfg.RemoteName(grantorUnit.Name)

	// Build the desired statement per rule. Rules whose grantee is not
	// deployed stay skipped; the rest form the diff target.
	desired := make(map[string]cloud.Statement)
	for i, rule := range rules {
		if !unitSucceeded(outcomes, rule.Grantee) {
			results[i].State = ir.RuleSkipped
			continue
		}
		stmt, err := r.statementFor(manifest, grantorName, rule, outcomes, record)
		if err != nil {
			results[i].State = ir.RuleSkipped
			logging.Warn("cannot build permission statement", "grantor", grantor, "grantee", rule.Grantee, "error", err)
			continue
		}
		desired[stmt.StatementID] = stmt
	}

	if r.DryRun {
		return results
	}
	if len(desired) == 0 {
		return results
	}

	callCtx := context.WithoutCancel(ctx)
	existing, err := r.getPolicy(ctx, callCtx, grantorName)
	if err != nil {
		failPending(results, &PermissionError{Kind: VerificationFailed, Grantor: grantor, Err: err})
		return results
	}

	mutated := false
	failedIDs := make(map[string]error)

	for _, id := range sortedIDs(desired) {
		want := desired[id]
		have, present := existing.Statement(id)
		if present && statementsEqual(have, want) {
			continue
		}
		if present {
			if err := r.removeStatement(ctx, callCtx, grantorName, id); err != nil {
				failedIDs[id] = &PermissionError{Kind: ConflictingStatement, Grantor: grantor, StatementID: id, Err: err}
				continue
			}
		}
		if err := r.putStatement(ctx, callCtx, want); err != nil {
			failedIDs[id] = &PermissionError{Kind: ConflictingStatement, Grantor: grantor, StatementID: id, Err: err}
			continue
		}
		mutated = true
		markApplied(results, id)
	}

	// Owned statements no longer backed by a rule are revoked.
	for _, have := range existing.Statements {
		if !strings.HasPrefix(have.StatementID, statementPrefix) {
			continue
		}
		if _, wanted := desired[have.StatementID]; wanted {
			continue
		}
		if err := r.removeStatement(ctx, callCtx, grantorName, have.StatementID); err != nil {
			logging.Warn("could not remove stale permission statement", "function", grantorName, "statement", have.StatementID, "error", err)
			continue
		}
		mutated = true
	}

	r.verifyGrantor(ctx, callCtx, grantor, grantorName, desired, failedIDs, mutated, results)
	return results
}

// verifyGrantor settles the final state of each pending rule. When any
// mutation happened the policy is re-read and each desired statement
// checked for presence.
func (r *Reconciler) verifyGrantor(ctx, callCtx context.Context, grantor, grantorName string, desired map[string]cloud.Statement, failedIDs map[string]error, mutated bool, results []RuleOutcome) {
	var verified *cloud.Policy
	var verifyErr error
	if mutated {
		verified, verifyErr = r.getPolicy(ctx, callCtx, grantorName)
	}

	for i := range results {
		out := &results[i]
		if out.State == ir.RuleSkipped {
			continue
		}
		if err, bad := failedIDs[out.StatementID]; bad {
			out.State = ir.RuleFailed
			out.Err = err
			continue
		}
		if !mutated {
			out.State = ir.RuleVerified
			continue
		}
		if verifyErr != nil {
			out.State = ir.RuleFailed
			out.Err = &PermissionError{Kind: VerificationFailed, Grantor: grantor, StatementID: out.StatementID, Err: verifyErr}
			continue
		}
		want := desired[out.StatementID]
		have, present := verified.Statement(out.StatementID)
		if !present || !statementsEqual(have, want) {
			out.State = ir.RuleFailed
			out.Err = &PermissionError{
				Kind:        VerificationFailed,
				Grantor:     grantor,
				StatementID: out.StatementID,
				Err:         fmt.Errorf("statement missing from policy after apply"),
			}
			continue
		}
		out.State = ir.RuleVerified
	}
}

// statementFor renders a rule into a concrete policy statement. Routes
// grant the gateway invoke rights scoped to one method and path;
// functions grant the execution role.
func (r *Reconciler) statementFor(manifest *ir.Manifest, grantorName string, rule ir.PermissionRule, outcomes map[string]*UnitOutcome, record *ir.Record) (cloud.Statement, error) {
	stmt := cloud.Statement{
		FunctionName: grantorName,
		StatementID:  StatementID(rule),
		Action:       rule.Action,
	}

	grantee, ok := manifest.Unit(rule.Grantee)
	if !ok {
		return cloud.Statement{}, fmt.Errorf("grantee %s missing from manifest", rule.Grantee)
	}

	switch grantee.Kind {
	case ir.KindRoute:
		remoteID := remoteIDFor(outcomes, record, rule.Grantee)
		apiID, _, found := strings.Cut(remoteID, "/")
		if !found || apiID == "" {
			return cloud.Statement{}, fmt.Errorf("route %s has no usable remote identifier", rule.Grantee)
		}
		stmt.Principal = "apigateway.amazonaws.com"
		stmt.SourceARN = fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/*/%s%s",
			r.cfg.Region, r.cfg.AccountID, apiID, grantee.Config.Method, grantee.Config.Path)
	case ir.KindFunction:
		stmt.Principal = r.cfg.RoleARN()
	default:
		return cloud.Statement{}, fmt.Errorf("unit kind %s cannot receive invoke rights", grantee.Kind)
	}
	return stmt, nil
}

func (r *Reconciler) getPolicy(ctx, callCtx context.Context, functionName string) (*cloud.Policy, error) {
	var policy *cloud.Policy
	err := RetryWithBackoff(ctx, r.retry, func() error {
		p, err := r.client.GetResourcePolicy(callCtx, functionName)
		if err != nil {
			return err
		}
		policy = p
		return nil
	}, cloud.IsTransient)
	return policy, err
}

func (r *Reconciler) putStatement(ctx, callCtx context.Context, stmt cloud.Statement) error {
	return RetryWithBackoff(ctx, r.retry, func() error {
		return r.client.PutPermissionStatement(callCtx, stmt)
	}, cloud.IsTransient)
}

func (r *Reconciler) removeStatement(ctx, callCtx context.Context, functionName, statementID string) error {
	return RetryWithBackoff(ctx, r.retry, func() error {
		return r.client.RemovePermissionStatement(callCtx, functionName, statementID)
	}, cloud.IsTransient)
}

func unitSucceeded(outcomes map[string]*UnitOutcome, unitID string) bool {
	out, ok := outcomes[unitID]
	if !ok {
		return false
	}
	switch out.Status {
	case StatusDeployed, StatusUnchanged, StatusPlanned:
		return true
	}
	return false
}

func remoteIDFor(outcomes map[string]*UnitOutcome, record *ir.Record, unitID string) string {
	if out, ok := outcomes[unitID]; ok && out.Remote != nil {
		return out.Remote.ID
	}
	if entry, ok := record.Entry(unitID); ok {
		return entry.RemoteID
	}
	return ""
}

func statementsEqual(a, b cloud.Statement) bool {
	return a.Action == b.Action && a.Principal == b.Principal && a.SourceARN == b.SourceARN
}

func sortedIDs(desired map[string]cloud.Statement) []string {
	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func failPending(results []RuleOutcome, err error) {
	for i := range results {
		if results[i].State == ir.RulePending {
			results[i].State = ir.RuleFailed
			results[i].Err = err
		}
	}
}

func markApplied(results []RuleOutcome, statementID string) {
	for i := range results {
		if results[i].StatementID == statementID {
			results[i].State = ir.RuleApplied
		}
	}
}
