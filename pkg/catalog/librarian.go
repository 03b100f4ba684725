// Package catalog defines the contract of the Librarian, the hierarchical
// metadata catalog Bartender builds its namespace on, together with the
// typed metadata model shared by every backend.
//
// Every Librarian call is batched: requests are keyed by caller-chosen
// IDs and the result map uses the same keys. A returned error means the
// whole call failed (backend unreachable, closed, timed out); per-item
// outcomes are reported as status strings in the result map.
package catalog

import "context"

// Librarian is the catalog contract.
type Librarian interface {
	// TraverseLN resolves every Logical Name as far as it can.
	//
	// Resolution starts at the entry named by the root segment (the
	// global root "0" when the segment is empty) and follows the entries
	// section of each collection. It stops at the first missing name.
	TraverseLN(ctx context.Context, names map[string]string) (map[string]Traversal, error)

	// Get returns the metadata of every existing GUID, restricted to the
	// given filters. Missing GUIDs are absent from the result.
	Get(ctx context.Context, guids []string, filters []Filter) (map[string]*Metadata, error)

	// New creates one entry per request. An explicit GUID is taken from
	// Metadata.Entry.GUID; otherwise a fresh GUID is allocated.
	// Statuses: done, exists, failed.
	New(ctx context.Context, entries map[string]*Metadata) (map[string]NewResult, error)

	// Remove deletes entries by GUID.
	// Statuses: removed, no such GUID.
	Remove(ctx context.Context, guids map[string]string) (map[string]string, error)

	// ModifyMetadata applies one change per request, each atomically.
	// Statuses: set, unset, entry exists, not changed, no such GUID,
	// failed: <reason>.
	ModifyMetadata(ctx context.Context, changes map[string]Change) (map[string]string, error)
}

// Store is a Librarian backend owned by the process.
type Store interface {
	Librarian

	// Healthcheck verifies the backend can serve requests.
	Healthcheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
