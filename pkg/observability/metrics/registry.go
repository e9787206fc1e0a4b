package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds metrics by name.
type Registry struct {
	metrics sync.Map
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds m, replacing any metric of the same name, and returns it.
func Register[M Metric](r *Registry, m M) M {
	r.metrics.Store(m.Name(), m)
	return m
}

// Get looks up a metric by name.
func (r *Registry) Get(name string) (Metric, bool) {
	m, ok := r.metrics.Load(name)
	if !ok {
		return nil, false
	}
	return m.(Metric), true
}

// Export renders every metric, sorted by name.
func (r *Registry) Export() string {
	var names []string
	r.metrics.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		if m, ok := r.Get(name); ok {
			sb.WriteString(m.Describe())
		}
	}
	return sb.String()
}

// Unregister removes a metric.
func (r *Registry) Unregister(name string) {
	r.metrics.Delete(name)
}
