package executor

import (
	"strings"

	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// Registry maps executor ids to definitions. Populate it during startup;
// after that lookups are read-only and safe for concurrent use.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry creates a registry holding the given definitions.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Registering the same id twice is a startup
// error.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	id := def.ID()
	if _, ok := r.defs[id]; ok {
		return appErr.New(appErr.ExecutorDuplicated).WithMessagef("executor %q registered twice", id)
	}
	r.defs[id] = def
	r.order = append(r.order, id)
	return nil
}

// Lookup resolves an executor id.
func (r *Registry) Lookup(id string) (Definition, error) {
	def, ok := r.defs[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Definition{}, appErr.New(appErr.ExecutorNotFound).WithMessagef("no executor registered for %q", id)
	}
	return def, nil
}

// LookupLanguage resolves a language+version pair.
func (r *Registry) LookupLanguage(language, version string) (Definition, error) {
	return r.Lookup(ExecutorID(language, version))
}

// Definitions returns all registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// IDs returns all registered executor ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
