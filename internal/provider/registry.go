package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/providers/aws"
	"github.com/updraft-io/updraft/providers/null"
)

// Registry manages the lifecycle of cloud backends.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]cloud.Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]cloud.Client),
	}
}

// Open initializes and caches the named backend. Only built-in backends
// exist: "aws" talks to the platform, "null" records calls in memory and
// backs dry runs. Opening an already-open backend returns the cached
// client.
func (r *Registry) Open(ctx context.Context, name string, cfg *config.Config) (cloud.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	var client cloud.Client
	switch name {
	case "aws":
		c, err := aws.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = c
	case "null":
		client = null.NewClient()
	default:
		return nil, fmt.Errorf("unknown backend: %s", name)
	}

	r.clients[name] = client
	return client, nil
}

// Get returns an already-open backend.
func (r *Registry) Get(name string) (cloud.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("backend not open: %s", name)
	}
	return client, nil
}
