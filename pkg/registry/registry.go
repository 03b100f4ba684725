package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/shepherd"
)

// Registry manages the named resources of one process: the Librarian the
// service talks to and the Shepherd nodes it can place replicas on.
// It provides thread-safe registration and lookup.
//
// Only Shepherds registered here can be reached by the placement engine.
// A service ID found alive in the catalog registry but missing here is
// reported as shepherd.ErrUnknownService.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.SetLibrarian(badgerStore)
//	reg.RegisterShepherd(memoryNode)
//
//	node, _ := reg.GetShepherd("shepherd-1")
type Registry struct {
	mu        sync.RWMutex
	librarian catalog.Store
	shepherds map[string]shepherd.Shepherd
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		shepherds: make(map[string]shepherd.Shepherd),
	}
}

// SetLibrarian sets the catalog backend. It can only be set once.
func (r *Registry) SetLibrarian(store catalog.Store) error {
	if store == nil {
		return fmt.Errorf("cannot register nil librarian")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.librarian != nil {
		return fmt.Errorf("librarian already registered")
	}
	r.librarian = store
	return nil
}

// Librarian returns the catalog backend, or nil if none was set.
func (r *Registry) Librarian() catalog.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.librarian
}

// RegisterShepherd adds a node under its service ID.
// Returns an error if a node with the same ID already exists.
func (r *Registry) RegisterShepherd(node shepherd.Shepherd) error {
	if node == nil {
		return fmt.Errorf("cannot register nil shepherd")
	}
	id := node.ServiceID()
	if id == "" {
		return fmt.Errorf("cannot register shepherd with empty service ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shepherds[id]; exists {
		return fmt.Errorf("shepherd %q already registered", id)
	}
	r.shepherds[id] = node
	return nil
}

// GetShepherd returns the node registered under serviceID.
func (r *Registry) GetShepherd(serviceID string) (shepherd.Shepherd, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.shepherds[serviceID]
	if !exists {
		return nil, fmt.Errorf("%w: %q", shepherd.ErrUnknownService, serviceID)
	}
	return node, nil
}

// ListShepherds returns the registered service IDs, sorted.
func (r *Registry) ListShepherds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.shepherds))
	for id := range r.shepherds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountShepherds returns the number of registered nodes.
func (r *Registry) CountShepherds() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shepherds)
}
