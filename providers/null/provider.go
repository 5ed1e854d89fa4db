package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/ir"
)

// Client is an in-memory cloud.Client. It hands out stable fake ARNs,
// keeps real resource policies so reconciliation round-trips, and
// records every call. Tests script failures per resource name.
type Client struct {
	mu sync.Mutex

	// Calls lists every invocation as "<op> <name>", in order.
	Calls []string

	// FailWith makes calls touching the named resource return the
	// given error until the entry is removed.
	FailWith map[string]error

	// FailTimes bounds FailWith: the first N calls touching the name
	// fail, later ones succeed. Without an entry the failure is sticky.
	FailTimes map[string]int

	// Missing makes VerifyResource report the remote ID as gone.
	Missing map[string]bool

	functions map[string]int // name -> deploy count
	layers    map[string]int // name -> latest published version
	routes    map[string]string
	policies  map[string]*cloud.Policy
}

var _ cloud.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		FailWith:  make(map[string]error),
		FailTimes: make(map[string]int),
		Missing:   make(map[string]bool),
		functions: make(map[string]int),
		layers:    make(map[string]int),
		routes:    make(map[string]string),
		policies:  make(map[string]*cloud.Policy),
	}
}

// CallCount returns how many recorded calls start with the given op.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.Calls {
		if len(call) >= len(op) && call[:len(op)] == op {
			n++
		}
	}
	return n
}

// MutationCount returns the total number of remote mutation calls.
func (c *Client) MutationCount() int {
	return c.CallCount("CreateOrUpdateLayer") +
		c.CallCount("CreateOrUpdateFunction") +
		c.CallCount("CreateOrUpdateApiRoute") +
		c.CallCount("PutPermissionStatement") +
		c.CallCount("RemovePermissionStatement")
}

func (c *Client) record(op, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, op+" "+name)

	err, ok := c.FailWith[name]
	if !ok {
		return nil
	}
	if n, limited := c.FailTimes[name]; limited {
		if n <= 0 {
			return nil
		}
		c.FailTimes[name] = n - 1
	}
	return err
}

func (c *Client) CreateOrUpdateLayer(ctx context.Context, spec cloud.LayerSpec) (*cloud.RemoteResource, error) {
	if err := c.record("CreateOrUpdateLayer", spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers[spec.Name]++
	version := c.layers[spec.Name]
	return &cloud.RemoteResource{
		ID:      fmt.Sprintf("arn:aws:lambda:null:000000000000:layer:%s:%d", spec.Name, version),
		Version: fmt.Sprintf("%d", version),
	}, nil
}

func (c *Client) CreateOrUpdateFunction(ctx context.Context, spec cloud.FunctionSpec) (*cloud.RemoteResource, error) {
	if err := c.record("CreateOrUpdateFunction", spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions[spec.Name]++
	return &cloud.RemoteResource{
		ID:      fmt.Sprintf("arn:aws:lambda:null:000000000000:function:%s", spec.Name),
		Version: "$LATEST",
	}, nil
}

func (c *Client) CreateOrUpdateApiRoute(ctx context.Context, spec cloud.RouteSpec) (*cloud.RemoteResource, error) {
	if err := c.record("CreateOrUpdateApiRoute", spec.RouteKey); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	routeID := fmt.Sprintf("route-%d", len(c.routes)+1)
	if existing, ok := c.routes[spec.RouteKey]; ok {
		routeID = existing
	}
	c.routes[spec.RouteKey] = routeID
	return &cloud.RemoteResource{ID: "nullapi01/" + routeID}, nil
}

func (c *Client) GetResourcePolicy(ctx context.Context, functionName string) (*cloud.Policy, error) {
	if err := c.record("GetResourcePolicy", functionName); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	policy, ok := c.policies[functionName]
	if !ok {
		return &cloud.Policy{}, nil
	}
	copied := &cloud.Policy{Statements: append([]cloud.Statement(nil), policy.Statements...)}
	return copied, nil
}

func (c *Client) PutPermissionStatement(ctx context.Context, stmt cloud.Statement) error {
	if err := c.record("PutPermissionStatement", stmt.StatementID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	policy, ok := c.policies[stmt.FunctionName]
	if !ok {
		policy = &cloud.Policy{}
		c.policies[stmt.FunctionName] = policy
	}
	if _, exists := policy.Statement(stmt.StatementID); exists {
		return fmt.Errorf("statement %s already exists on %s", stmt.StatementID, stmt.FunctionName)
	}
	policy.Statements = append(policy.Statements, stmt)
	return nil
}

func (c *Client) RemovePermissionStatement(ctx context.Context, functionName, statementID string) error {
	if err := c.record("RemovePermissionStatement", statementID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	policy, ok := c.policies[functionName]
	if !ok {
		return nil
	}
	kept := policy.Statements[:0]
	for _, s := range policy.Statements {
		if s.StatementID != statementID {
			kept = append(kept, s)
		}
	}
	policy.Statements = kept
	return nil
}

func (c *Client) VerifyResource(ctx context.Context, kind ir.UnitKind, remoteID string) (bool, error) {
	if err := c.record("VerifyResource", remoteID); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Missing[remoteID], nil
}

// Policy exposes the stored policy for assertions.
func (c *Client) Policy(functionName string) *cloud.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if policy, ok := c.policies[functionName]; ok {
		return policy
	}
	return &cloud.Policy{}
}
