package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updraft-io/updraft/internal/archive"
	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/ir"
	"github.com/updraft-io/updraft/internal/state"
	"github.com/updraft-io/updraft/providers/null"
)

// project is a minimal on-disk app: one layer, one function using it,
// one route in front of the function.
type project struct {
	root     string
	store    *state.Store
	manifest *ir.Manifest
	layerDir string
	fnDir    string
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	layerDir := filepath.Join(root, "layers", "common")
	fnDir := filepath.Join(root, "api", "users")
	require.NoError(t, os.MkdirAll(layerDir, 0o755))
	require.NoError(t, os.MkdirAll(fnDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(layerDir, "shared.py"), []byte("VERSION = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fnDir, "lambda_function.py"),
		[]byte("def lambda_handler(event, context):\n    return {}\n"), 0o644))

	layer := layerUnit("common")
	layer.SourceDir = layerDir
	fn := fnUnit("users", layer.ID)
	fn.SourceDir = fnDir
	route := routeUnit("GET", "/users", fn.ID)

	return &project{
		root:     root,
		store:    state.NewStore(root),
		manifest: ir.NewManifest(root, "", []*ir.Unit{layer, fn, route}),
		layerDir: layerDir,
		fnDir:    fnDir,
	}
}

func TestOrchestrator_FirstRunDeploysEverything(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count(StatusDeployed))
	assert.True(t, result.Clean())

	// Every unit landed in the record with its hash and remote identity.
	record, err := p.store.Read()
	require.NoError(t, err)
	for _, id := range []string{ir.LayerID("common"), ir.FunctionID("users"), ir.RouteID("GET", "/users")} {
		entry, ok := record.Entry(id)
		require.True(t, ok, id)
		assert.NotEmpty(t, entry.ContentHash, id)
		assert.NotEmpty(t, entry.RemoteID, id)
	}

	// The single route->function grant is applied and verified.
	require.Len(t, result.Rules, 1)
	assert.Equal(t, ir.RuleVerified, result.Rules[0].State)
}

func TestOrchestrator_SecondRunIsIdempotent(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)
	mutations := client.MutationCount()

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	// Nothing changed, so the second run touches the platform only to
	// read the resource policy.
	assert.Equal(t, 3, result.Count(StatusUnchanged))
	assert.Equal(t, 0, result.Count(StatusDeployed))
	assert.Equal(t, mutations, client.MutationCount())
	assert.True(t, result.Clean())
}

func TestOrchestrator_LayerEditRedeploysDependents(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p.layerDir, "shared.py"), []byte("VERSION = 2\n"), 0o644))

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	// The edit reaches everything downstream of the layer.
	assert.Equal(t, StatusDeployed, result.Outcomes[ir.LayerID("common")].Status)
	assert.Equal(t, StatusDeployed, result.Outcomes[ir.FunctionID("users")].Status)
	assert.Equal(t, StatusDeployed, result.Outcomes[ir.RouteID("GET", "/users")].Status)

	record, err := p.store.Read()
	require.NoError(t, err)
	entry, ok := record.Entry(ir.LayerID("common"))
	require.True(t, ok)
	assert.Equal(t, "2", entry.RemoteVersion) // a new layer version was published
}

func TestOrchestrator_FunctionEditLeavesLayerAlone(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p.fnDir, "lambda_function.py"),
		[]byte("def lambda_handler(event, context):\n    return {'v': 2}\n"), 0o644))

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, result.Outcomes[ir.LayerID("common")].Status)
	assert.Equal(t, StatusDeployed, result.Outcomes[ir.FunctionID("users")].Status)
	assert.Equal(t, 1, client.CallCount("CreateOrUpdateLayer"))
}

func TestOrchestrator_DryRunTouchesNothing(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)
	o.DryRun = true

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count(StatusPlanned))
	assert.Empty(t, client.Calls)
	for _, rule := range result.Rules {
		assert.Equal(t, ir.RulePending, rule.State)
	}

	// No record, no artifacts, no lock: the project tree is untouched.
	_, err = os.Stat(p.store.RecordPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p.store.ArtifactsDir())
	assert.True(t, os.IsNotExist(err))
}

func TestOrchestrator_CorruptRecordIsFatal(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.MkdirAll(p.store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(p.store.RecordPath(), []byte("{ not json"), 0o644))

	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)

	var storeErr *state.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Empty(t, client.Calls)
}

func TestOrchestrator_UnknownRecordVersionIsFatal(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.MkdirAll(p.store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(p.store.RecordPath(), []byte(`{"version": 99, "units": {}}`), 0o644))

	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)

	var storeErr *state.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Contains(t, err.Error(), "unsupported record version 99")
	assert.Empty(t, client.Calls)
}

func TestOrchestrator_LockedProjectIsFatal(t *testing.T) {
	p := newProject(t)
	require.NoError(t, p.store.Lock("someone-else"))
	defer p.store.Unlock()

	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), p.manifest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another run")
	assert.Empty(t, client.Calls)
}

func TestOrchestrator_FailedUnitsStayOutOfRecord(t *testing.T) {
	p := newProject(t)
	client := null.NewClient()
	client.FailWith["demo-common-dev"] = cloud.NewPermanent("CreateOrUpdateLayer", "demo-common-dev", errors.New("denied"))
	o := NewOrchestrator(testConfig(), client, p.store)

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Count(StatusFailed))
	assert.Equal(t, 2, result.Count(StatusSkipped))
	assert.False(t, result.Clean())

	record, err := p.store.Read()
	require.NoError(t, err)
	assert.Empty(t, record.Units)

	// Once the failure clears, the next run picks all three up again.
	delete(client.FailWith, "demo-common-dev")
	result, err = o.Run(context.Background(), p.manifest)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count(StatusDeployed))
}

func TestOrchestrator_PackagingFailureSkipsDependents(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.Remove(filepath.Join(p.fnDir, "lambda_function.py")))

	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	result, err := o.Run(context.Background(), p.manifest)
	require.NoError(t, err)

	assert.Equal(t, StatusDeployed, result.Outcomes[ir.LayerID("common")].Status)

	fnOut := result.Outcomes[ir.FunctionID("users")]
	assert.Equal(t, StatusFailed, fnOut.Status)
	var pkgErr *archive.PackagingError
	require.ErrorAs(t, fnOut.Err, &pkgErr)
	assert.Equal(t, archive.MissingArtifact, pkgErr.Kind)

	assert.Equal(t, StatusSkipped, result.Outcomes[ir.RouteID("GET", "/users")].Status)
	assert.Equal(t, 0, client.CallCount("CreateOrUpdateFunction"))
	assert.Equal(t, 0, client.CallCount("CreateOrUpdateApiRoute"))
}

func TestOrchestrator_CycleIsFatal(t *testing.T) {
	a := fnUnit("a", ir.FunctionID("b"))
	b := fnUnit("b", ir.FunctionID("a"))
	p := newProject(t)
	manifest := ir.NewManifest(p.root, "", []*ir.Unit{a, b})

	client := null.NewClient()
	o := NewOrchestrator(testConfig(), client, p.store)

	_, err := o.Run(context.Background(), manifest)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, CyclicDependency, graphErr.Kind)
	assert.Empty(t, client.Calls)
}
