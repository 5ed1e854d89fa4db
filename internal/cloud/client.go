package cloud

import (
	"context"

	"github.com/updraft-io/updraft/internal/ir"
)

// Client is the remote platform surface the engine deploys through. Each
// call is atomic: it either confirms the resource converged to the spec
// or returns a classified error (see Error).
type Client interface {
	// CreateOrUpdateLayer publishes a layer version from the spec's archive.
	CreateOrUpdateLayer(ctx context.Context, spec LayerSpec) (*RemoteResource, error)
	// CreateOrUpdateFunction creates the function if absent, otherwise
	// updates its code and configuration.
	CreateOrUpdateFunction(ctx context.Context, spec FunctionSpec) (*RemoteResource, error)
	// CreateOrUpdateApiRoute ensures the gateway route and its integration
	// point at the spec's function.
	CreateOrUpdateApiRoute(ctx context.Context, spec RouteSpec) (*RemoteResource, error)
	// GetResourcePolicy reads the invoke policy attached to a function.
	// A function with no policy returns an empty policy, not an error.
	GetResourcePolicy(ctx context.Context, functionName string) (*Policy, error)
	// PutPermissionStatement adds one statement to a function's policy.
	PutPermissionStatement(ctx context.Context, stmt Statement) error
	// RemovePermissionStatement deletes one statement by ID.
	RemovePermissionStatement(ctx context.Context, functionName, statementID string) error
	// VerifyResource reports whether a previously recorded resource still
	// exists remotely.
	VerifyResource(ctx context.Context, kind ir.UnitKind, remoteID string) (bool, error)
}

// RemoteResource identifies a deployed resource.
type RemoteResource struct {
	ID      string // ARN, or api-scoped composite for routes
	Version string
}

// LayerSpec describes a layer version to publish.
type LayerSpec struct {
	Name               string
	ArchivePath        string
	S3Bucket           string // set instead of ArchivePath for staged uploads
	S3Key              string
	CompatibleRuntimes []string
	Description        string
}

// FunctionSpec describes a function to create or update.
type FunctionSpec struct {
	Name             string
	Runtime          string
	Handler          string
	Role             string
	ArchivePath      string
	S3Bucket         string
	S3Key            string
	CodeSHA256       string // base64, used to detect an already-current remote
	Environment      map[string]string
	LayerARNs        []string
	LogRetentionDays int32
}

// RouteSpec describes a gateway route fronting a function.
type RouteSpec struct {
	RouteKey    string // "GET /users"
	FunctionARN string
	Public      bool
}

// Statement is one invoke-permission statement on a function's policy.
type Statement struct {
	FunctionName string
	StatementID  string
	Action       string
	Principal    string
	SourceARN    string
}

// Policy is the set of statements attached to a function.
type Policy struct {
	Statements []Statement
}

// Statement looks up a statement by ID.
func (p *Policy) Statement(id string) (Statement, bool) {
	for _, s := range p.Statements {
		if s.StatementID == id {
			return s, true
		}
	}
	return Statement{}, false
}
