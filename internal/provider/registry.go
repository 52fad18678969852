package provider

import "fmt"

// Registry manages registered Backend implementations and provides
// lookup by name or URL-based auto-detection.
type Registry struct {
	backends []Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a Backend implementation to the registry.
func (r *Registry) Register(b Backend) {
	r.backends = append(r.backends, b)
}

// Detect iterates registered backends and returns the first one whose
// MatchesURL method returns true for the given URL.
func (r *Registry) Detect(url string) (Backend, error) {
	for _, b := range r.backends {
		if b.MatchesURL(url) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no registered backend matches URL: %s", url)
}

// Get looks up a registered backend by its Name().
func (r *Registry) Get(name string) (Backend, error) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no registered backend with name: %s", name)
}

// Resolve returns the backend named kind, or detects one from url when kind is empty.
func (r *Registry) Resolve(kind, url string) (Backend, error) {
	if kind != "" {
		return r.Get(kind)
	}
	return r.Detect(url)
}
