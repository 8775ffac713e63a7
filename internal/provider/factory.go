package provider

import (
	"fmt"
	"strings"

	"github.com/vigilops/vigil-core/internal/config"
)

// Factory builds an adapter from its settings block.
type Factory func(settings config.ProviderSettings) (Adapter, error)

// Registry of adapter factories
var Registry = map[string]Factory{}

// Register adds a factory for a backend
func Register(name string, f Factory) {
	Registry[strings.ToLower(name)] = f
}

// GetAdapter returns an initialized adapter, paced if configured.
func GetAdapter(name string, settings config.ProviderSettings) (Adapter, error) {
	factory, ok := Registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	a, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return WithPacing(a, settings.RequestsPerMinute), nil
}
