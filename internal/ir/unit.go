package ir

import "fmt"

// UnitKind discriminates the three deployable unit variants.
type UnitKind string

const (
	KindLayer    UnitKind = "layer"
	KindFunction UnitKind = "function"
	KindRoute    UnitKind = "route"
)

// Unit is a single deployable build unit discovered in the project tree.
type Unit struct {
	ID        string            `json:"id" yaml:"id"`
	Kind      UnitKind          `json:"kind" yaml:"kind"`
	Name      string            `json:"name" yaml:"name"`
	SourceDir string            `json:"sourceDir,omitempty" yaml:"sourceDir,omitempty"`
	DependsOn []string          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Config    UnitConfig        `json:"config" yaml:"config"`
	Generated map[string][]byte `json:"-" yaml:"-"` // files synthesized at packaging time
}

// UnitConfig carries the kind-specific deployment settings. Only the
// fields relevant to the unit's kind are populated.
type UnitConfig struct {
	Runtime            string            `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Handler            string            `json:"handler,omitempty" yaml:"handler,omitempty"`
	Role               string            `json:"role,omitempty" yaml:"role,omitempty"`
	Environment        map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	CompatibleRuntimes []string          `json:"compatibleRuntimes,omitempty" yaml:"compatibleRuntimes,omitempty"`
	Method             string            `json:"method,omitempty" yaml:"method,omitempty"`
	Path               string            `json:"path,omitempty" yaml:"path,omitempty"`
	Public             bool              `json:"public,omitempty" yaml:"public,omitempty"`
	TargetFunction     string            `json:"targetFunction,omitempty" yaml:"targetFunction,omitempty"`
}

// LayerID returns the stable identifier for a layer name.
func LayerID(name string) string {
	return fmt.Sprintf("layer:%s", name)
}

// FunctionID returns the stable identifier for a function name.
func FunctionID(name string) string {
	return fmt.Sprintf("function:%s", name)
}

// RouteID returns the stable identifier for a route key (method + path).
func RouteID(method, path string) string {
	return fmt.Sprintf("route:%s %s", method, path)
}

// RouteKey returns the gateway route key ("GET /users") for a route unit.
func (u *Unit) RouteKey() string {
	return fmt.Sprintf("%s %s", u.Config.Method, u.Config.Path)
}
