package gateway

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnsupportedGateway = errors.New("unsupported payment gateway")

// Registry maps gateway names to adapter instances. It is populated once at
// process start and read-only afterwards, so no locking is needed.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	return adapter, nil
}

func (r *Registry) Supported() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
