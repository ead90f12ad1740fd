// Package source wires external job-listing providers behind the
// listing.Adapter interface.
package source

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

// Options carries cross-source settings adapters need at build time.
type Options struct {
	UserAgent string
	Logger    *zap.Logger
}

// Factory builds one adapter from its source configuration.
type Factory func(cfg config.Source, opts Options) (listing.Adapter, error)

// Registry maps source names to adapter factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in sources registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(SourceFranceTravail, NewFranceTravail)
	r.Register(SourceHelloWork, NewHelloWork)
	r.Register(SourceDemo, NewDemo)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names returns the registered source names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the named adapter. An unknown name or a factory failure
// surfaces as a SourceUnavailableError so callers can skip the source
// without aborting the cycle.
func (r *Registry) Open(name string, cfg config.Source, opts Options) (listing.Adapter, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &listing.SourceUnavailableError{
			Source: name,
			Err:    fmt.Errorf("no adapter registered for %q", name),
		}
	}
	adapter, err := f(cfg, opts)
	if err != nil {
		return nil, &listing.SourceUnavailableError{Source: name, Err: err}
	}
	return adapter, nil
}
