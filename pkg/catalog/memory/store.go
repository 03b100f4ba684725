// Package memory implements an in-process Librarian.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/bartender/pkg/catalog"
)

// MemoryLibrarian implements catalog.Store using in-memory storage.
//
// It is suitable for tests, development, and single-process deployments
// where the catalog does not need to survive a restart.
//
// Thread Safety:
// All operations are protected by a single read-write mutex (mu). Every
// batch item is applied under the write lock on its own, so concurrent
// batches interleave per item, never inside one.
//
// Storage Model:
// One map from GUID to Metadata. Stored metadata is never handed out;
// readers receive clones.
type MemoryLibrarian struct {
	// mu protects entries and closed.
	mu sync.RWMutex

	entries map[string]*catalog.Metadata
	closed  bool

	// newGUID allocates GUIDs for entries created without an explicit one.
	newGUID func() string
}

// NewMemoryLibrarian creates an empty catalog holding only the global root
// collection and the Shepherd registry entry.
func NewMemoryLibrarian() *MemoryLibrarian {
	return &MemoryLibrarian{
		entries: map[string]*catalog.Metadata{
			catalog.GlobalRootGUID: {
				Entry: catalog.Entry{Type: catalog.EntryTypeCollection},
			},
			catalog.ShepherdRegistryGUID: {},
		},
		newGUID: uuid.NewString,
	}
}

func (store *MemoryLibrarian) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.closed {
		return &catalog.StoreError{Code: catalog.ErrClosed, Message: "librarian is closed"}
	}
	return nil
}

// TraverseLN resolves every name under one read lock.
func (store *MemoryLibrarian) TraverseLN(ctx context.Context, names map[string]string) (map[string]catalog.Traversal, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if err := store.checkOpen(ctx); err != nil {
		return nil, err
	}

	get := func(guid string) (*catalog.Metadata, error) {
		return store.entries[guid], nil
	}

	results := make(map[string]catalog.Traversal, len(names))
	for id, name := range names {
		tr, err := catalog.Traverse(name, get)
		if err != nil {
			return nil, err
		}
		results[id] = tr
	}
	return results, nil
}

// Get returns filtered clones of the requested entries.
func (store *MemoryLibrarian) Get(ctx context.Context, guids []string, filters []catalog.Filter) (map[string]*catalog.Metadata, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if err := store.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]*catalog.Metadata, len(guids))
	for _, guid := range guids {
		if md, ok := store.entries[guid]; ok {
			results[guid] = md.Filter(filters)
		}
	}
	return results, nil
}

// New creates entries. The requested GUID, if any, is recorded in the
// entry section of the stored metadata as well.
func (store *MemoryLibrarian) New(ctx context.Context, entries map[string]*catalog.Metadata) (map[string]catalog.NewResult, error) {
	results := make(map[string]catalog.NewResult, len(entries))

	for id, md := range entries {
		store.mu.Lock()
		if err := store.checkOpen(ctx); err != nil {
			store.mu.Unlock()
			return nil, err
		}

		guid := ""
		if md != nil {
			guid = md.Entry.GUID
		}
		if guid == "" {
			guid = store.newGUID()
		}

		if _, exists := store.entries[guid]; exists {
			results[id] = catalog.NewResult{GUID: guid, Status: catalog.StatusExists}
			store.mu.Unlock()
			continue
		}

		stored := md.Clone()
		if stored == nil {
			stored = &catalog.Metadata{}
		}
		store.entries[guid] = stored
		results[id] = catalog.NewResult{GUID: guid, Status: catalog.StatusDone}
		store.mu.Unlock()
	}

	return results, nil
}

// Remove deletes entries by GUID.
func (store *MemoryLibrarian) Remove(ctx context.Context, guids map[string]string) (map[string]string, error) {
	results := make(map[string]string, len(guids))

	for id, guid := range guids {
		store.mu.Lock()
		if err := store.checkOpen(ctx); err != nil {
			store.mu.Unlock()
			return nil, err
		}

		if _, exists := store.entries[guid]; !exists {
			results[id] = catalog.StatusNoSuchGUID
		} else {
			delete(store.entries, guid)
			results[id] = catalog.StatusRemoved
		}
		store.mu.Unlock()
	}

	return results, nil
}

// ModifyMetadata applies every change atomically on its own.
func (store *MemoryLibrarian) ModifyMetadata(ctx context.Context, changes map[string]catalog.Change) (map[string]string, error) {
	results := make(map[string]string, len(changes))

	for id, change := range changes {
		store.mu.Lock()
		if err := store.checkOpen(ctx); err != nil {
			store.mu.Unlock()
			return nil, err
		}

		md, exists := store.entries[change.GUID]
		if !exists {
			results[id] = catalog.StatusNoSuchGUID
		} else {
			results[id] = md.Apply(change)
		}
		store.mu.Unlock()
	}

	return results, nil
}

// Healthcheck verifies the store is open.
func (store *MemoryLibrarian) Healthcheck(ctx context.Context) error {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.checkOpen(ctx)
}

// Close discards the catalog. Later calls fail with ErrClosed.
func (store *MemoryLibrarian) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.closed = true
	store.entries = nil
	return nil
}
