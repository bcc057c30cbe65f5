// Package llm orchestrates text generation across a set of chat models
// with ordered fallback.
package llm

import "errors"

// ErrInvalidModel is returned when the requested model is not in the
// registry.
var ErrInvalidModel = errors.New("invalid model")

// AutoModel selects the server-ordered fallback list instead of a single
// model.
const AutoModel = "auto"

// Registry maps user-facing model names to backend model ids and holds the
// ordered fallback list used for automatic selection.
type Registry struct {
	models     map[string]string
	autoModels []string
}

// NewRegistry creates a Registry. models maps display names to backend ids;
// autoModels is the ordered backend id list for automatic selection.
func NewRegistry(models map[string]string, autoModels []string) *Registry {
	return &Registry{models: models, autoModels: autoModels}
}

// Resolve returns the ordered backend model candidates for a selection.
// Empty or "auto" yields the automatic fallback list; a known display name
// yields that single model; anything else is ErrInvalidModel.
func (r *Registry) Resolve(selected string) ([]string, error) {
	if selected == "" || selected == AutoModel {
		return r.autoModels, nil
	}
	if backend, ok := r.models[selected]; ok {
		return []string{backend}, nil
	}
	return nil, ErrInvalidModel
}

// Names returns the user-facing model names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
