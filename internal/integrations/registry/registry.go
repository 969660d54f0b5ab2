package registry

import (
	"fmt"
	"strings"
)

// Registry is the central mapping from integration-type name to
// capability bundle. Bundles are validated once at registration time.
type Registry struct {
	integrations map[string]*Integration
	order        []string
}

func NewRegistry() *Registry {
	return &Registry{
		integrations: make(map[string]*Integration),
	}
}

// Register adds an integration to the registry.
func (r *Registry) Register(i *Integration) error {
	if i == nil {
		return fmt.Errorf("integration is nil")
	}
	typ := strings.ToLower(strings.TrimSpace(i.Type))
	if typ == "" {
		return fmt.Errorf("integration type cannot be empty")
	}
	if _, exists := r.integrations[typ]; exists {
		return fmt.Errorf("integration type %q already registered", typ)
	}
	for _, t := range i.Tables {
		if strings.TrimSpace(t.Key) == "" {
			return fmt.Errorf("integration %q declares a table with an empty key", typ)
		}
	}
	for _, o := range i.Objects {
		if strings.TrimSpace(o.Key) == "" {
			return fmt.Errorf("integration %q declares an object with an empty key", typ)
		}
	}
	r.integrations[typ] = i
	r.order = append(r.order, typ)
	return nil
}

// Resolve retrieves an integration by type name. Unknown types report
// not-found, not an error.
func (r *Registry) Resolve(typ string) (*Integration, bool) {
	i, ok := r.integrations[strings.ToLower(strings.TrimSpace(typ))]
	return i, ok
}

// All returns every registered integration in registration order.
func (r *Registry) All() []*Integration {
	out := make([]*Integration, 0, len(r.order))
	for _, typ := range r.order {
		out = append(out, r.integrations[typ])
	}
	return out
}

// Available returns the integrations usable under the current deployment
// configuration, in registration order.
func (r *Registry) Available() []*Integration {
	out := make([]*Integration, 0, len(r.order))
	for _, typ := range r.order {
		if i := r.integrations[typ]; i.Available {
			out = append(out, i)
		}
	}
	return out
}
