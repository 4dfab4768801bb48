package connector

import (
	"context"
	"fmt"
	"time"

	"ContentEngine/internal/domain"
)

// Request carries all parameters required to fetch candidate items for
// one audience.
type Request struct {
	Audience domain.Audience
	Lookback time.Duration
	MaxItems int
}

// Connector fetches raw candidate items from one source. Implementations
// retry once on transient network failure and report sustained failure
// upward; they never abort the job themselves.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]domain.ContentItem, error)
}

// Registry keeps a mapping from source names to their connectors.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: map[string]Connector{}}
}

// Register adds or replaces a connector implementation.
func (r *Registry) Register(c Connector) {
	if r.connectors == nil {
		r.connectors = map[string]Connector{}
	}
	r.connectors[c.Name()] = c
}

// Resolve returns a connector by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Connector, error) {
	if c, ok := r.connectors[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("source %s is not registered", name)
}
