package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/ir"
	"github.com/updraft-io/updraft/internal/logging"
)

// Dependency declaration files read inside a function's source dir.
const (
	LayersFile  = ".layers"
	InvokesFile = ".invokes"
)

// HealthFunction is the name of the synthesized health unit.
const HealthFunction = "health"

var (
	methodFiles = map[string]string{
		"get.py":     "GET",
		"post.py":    "POST",
		"put.py":     "PUT",
		"patch.py":   "PATCH",
		"delete.py":  "DELETE",
		"head.py":    "HEAD",
		"options.py": "OPTIONS",
	}
	validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
)

// Scan walks the project tree and builds the manifest of layers,
// functions, and API routes from directory conventions alone. The layout
// must be unambiguous; anything else is a DetectionError.
func Scan(root string, cfg *config.Config, env string) (*ir.Manifest, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, &DetectionError{Path: root, Reason: "project root is not readable", Err: err}
	}
	trees := [][2]string{
		{cfg.LayerPath, cfg.APIPath},
		{cfg.LayerPath, cfg.APIPublicPath},
		{cfg.APIPath, cfg.APIPublicPath},
	}
	for _, pair := range trees {
		if filepath.Clean(pair[0]) == filepath.Clean(pair[1]) {
			return nil, &DetectionError{Path: root, Reason: fmt.Sprintf(
				"source trees %q and %q point at the same directory", pair[0], pair[1])}
		}
	}

	environ, err := config.LoadEnvFile(root, env)
	if err != nil {
		return nil, &DetectionError{Path: root, Reason: "env file is not readable", Err: err}
	}

	var units []*ir.Unit

	layers, err := scanLayers(root, cfg)
	if err != nil {
		return nil, err
	}
	units = append(units, layers...)

	layerIDs := make([]string, 0, len(layers))
	for _, l := range layers {
		layerIDs = append(layerIDs, l.ID)
	}

	apiUnits, apiPresent, err := scanAPITree(root, cfg.APIPath, false, cfg, environ, layerIDs)
	if err != nil {
		return nil, err
	}
	units = append(units, apiUnits...)

	publicUnits, publicPresent, err := scanAPITree(root, cfg.APIPublicPath, true, cfg, environ, layerIDs)
	if err != nil {
		return nil, err
	}
	units = append(units, publicUnits...)

	if apiPresent || publicPresent {
		units = appendHealthUnit(units, cfg, environ, layerIDs)
	}

	if err := checkUnique(units); err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, &DetectionError{Path: root, Reason: "nothing to build: no layers or api routes found"}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	logging.Debug("project scanned", "root", root, "units", len(units))
	return ir.NewManifest(root, env, units), nil
}

// scanLayers discovers layer units under the configured layer path.
func scanLayers(root string, cfg *config.Config) ([]*ir.Unit, error) {
	dir := filepath.Join(root, cfg.LayerPath)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &DetectionError{Path: dir, Reason: "layer directory is not readable", Err: err}
	}

	var units []*ir.Unit
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		if !validName.MatchString(name) {
			return nil, &DetectionError{
				Path:   filepath.Join(dir, name),
				Reason: fmt.Sprintf("layer name %q contains unsupported characters", name),
			}
		}
		units = append(units, &ir.Unit{
			ID:        ir.LayerID(name),
			Kind:      ir.KindLayer,
			Name:      name,
			SourceDir: filepath.Join(dir, name),
			Config: ir.UnitConfig{
				Runtime:            cfg.Runtime,
				CompatibleRuntimes: cfg.CompatibleRuntimes(),
			},
		})
	}
	return units, nil
}

// scanAPITree discovers function and route units under one API path.
// Every directory with at least one method file becomes a function; each
// method file becomes a route depending on that function.
func scanAPITree(root, apiPath string, public bool, cfg *config.Config, environ map[string]string, layerIDs []string) ([]*ir.Unit, bool, error) {
	dir := filepath.Join(root, apiPath)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &DetectionError{Path: dir, Reason: "api directory is not readable", Err: err}
	}

	var units []*ir.Unit
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		srcDir := filepath.Join(dir, name)
		if !validName.MatchString(name) {
			return nil, true, &DetectionError{
				Path:   srcDir,
				Reason: fmt.Sprintf("function name %q contains unsupported characters", name),
			}
		}

		methods, err := routeMethods(srcDir)
		if err != nil {
			return nil, true, err
		}
		if len(methods) == 0 {
			logging.Debug("skipping api directory without method files", "dir", srcDir)
			continue
		}

		fn, err := functionUnit(name, srcDir, cfg, environ, layerIDs, methods)
		if err != nil {
			return nil, true, err
		}
		units = append(units, fn)

		for _, method := range methods {
			path := "/" + name
			units = append(units, &ir.Unit{
				ID:        ir.RouteID(method, path),
				Kind:      ir.KindRoute,
				Name:      name,
				DependsOn: []string{fn.ID},
				Config: ir.UnitConfig{
					Method:         method,
					Path:           path,
					Public:         public,
					TargetFunction: fn.ID,
				},
			})
		}
	}
	return units, true, nil
}

// functionUnit assembles one function unit, including its declared layer
// and invoke dependencies and the generated dispatch wrapper.
func functionUnit(name, srcDir string, cfg *config.Config, environ map[string]string, layerIDs []string, methods []string) (*ir.Unit, error) {
	deps, err := declaredLayers(srcDir, layerIDs)
	if err != nil {
		return nil, err
	}

	invokes, err := declaredInvokes(srcDir)
	if err != nil {
		return nil, err
	}
	deps = append(deps, invokes...)

	unit := &ir.Unit{
		ID:        ir.FunctionID(name),
		Kind:      ir.KindFunction,
		Name:      name,
		SourceDir: srcDir,
		DependsOn: deps,
		Config: ir.UnitConfig{
			Runtime:     cfg.Runtime,
			Handler:     "lambda_function.lambda_handler",
			Environment: environ,
		},
	}

	// An existing lambda_function.py wins over the generated dispatcher.
	if _, err := os.Stat(filepath.Join(srcDir, "lambda_function.py")); os.IsNotExist(err) {
		unit.Generated = map[string][]byte{
			"lambda_function.py": dispatchWrapper(methods),
		}
	}
	return unit, nil
}

// declaredLayers reads the optional .layers file; without one, a
// function depends on every detected layer.
func declaredLayers(srcDir string, layerIDs []string) ([]string, error) {
	names, found, err := declarationFile(filepath.Join(srcDir, LayersFile))
	if err != nil {
		return nil, err
	}
	if !found {
		return append([]string(nil), layerIDs...), nil
	}
	deps := make([]string, 0, len(names))
	for _, n := range names {
		deps = append(deps, ir.LayerID(n))
	}
	return deps, nil
}

// declaredInvokes reads the optional .invokes file of function names this
// function calls directly.
func declaredInvokes(srcDir string) ([]string, error) {
	names, found, err := declarationFile(filepath.Join(srcDir, InvokesFile))
	if err != nil || !found {
		return nil, err
	}
	deps := make([]string, 0, len(names))
	for _, n := range names {
		deps = append(deps, ir.FunctionID(n))
	}
	return deps, nil
}

// declarationFile reads one name per line, ignoring blanks and # comments.
func declarationFile(path string) ([]string, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &DetectionError{Path: path, Reason: "declaration file is not readable", Err: err}
	}
	var names []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, true, nil
}

// routeMethods returns the HTTP methods for which the directory has
// method files, sorted for determinism.
func routeMethods(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &DetectionError{Path: dir, Reason: "function directory is not readable", Err: err}
	}
	var methods []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if m, ok := methodFiles[entry.Name()]; ok {
			methods = append(methods, m)
		}
	}
	sort.Strings(methods)
	return methods, nil
}

// appendHealthUnit synthesizes the health function and route unless the
// project defines its own.
func appendHealthUnit(units []*ir.Unit, cfg *config.Config, environ map[string]string, layerIDs []string) []*ir.Unit {
	for _, u := range units {
		if u.Kind == ir.KindFunction && u.Name == HealthFunction {
			return units
		}
	}

	fn := &ir.Unit{
		ID:        ir.FunctionID(HealthFunction),
		Kind:      ir.KindFunction,
		Name:      HealthFunction,
		DependsOn: append([]string(nil), layerIDs...),
		Config: ir.UnitConfig{
			Runtime:     cfg.Runtime,
			Handler:     "lambda_function.lambda_handler",
			Environment: environ,
		},
		Generated: map[string][]byte{
			"lambda_function.py": dispatchWrapper([]string{"GET"}),
			"get.py":             healthHandler(),
		},
	}
	route := &ir.Unit{
		ID:        ir.RouteID("GET", "/"+HealthFunction),
		Kind:      ir.KindRoute,
		Name:      HealthFunction,
		DependsOn: []string{fn.ID},
		Config: ir.UnitConfig{
			Method:         "GET",
			Path:           "/" + HealthFunction,
			TargetFunction: fn.ID,
		},
	}
	return append(units, fn, route)
}

// checkUnique rejects manifests with duplicate unit identifiers.
func checkUnique(units []*ir.Unit) error {
	seen := make(map[string]string, len(units))
	for _, u := range units {
		if prev, ok := seen[u.ID]; ok {
			return &DetectionError{
				Path:   u.SourceDir,
				Reason: fmt.Sprintf("unit %q is defined twice (also at %s)", u.ID, prev),
			}
		}
		seen[u.ID] = u.SourceDir
	}
	return nil
}
