// Package badger implements a persistent Librarian on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
)

// maxConflictRetries bounds how often one batch item is retried after a
// transaction conflict before it is reported as failed.
const maxConflictRetries = 16

// BadgerLibrarian implements catalog.Store on BadgerDB.
//
// Every batch item runs in its own read-write transaction. Badger's
// optimistic concurrency control rejects a commit whose reads were
// invalidated by a concurrent writer with badger.ErrConflict; such items
// are retried from scratch, so "add" and "setifvalue" are atomic across
// processes sharing nothing but the database.
//
// TraverseLN resolves every name of a batch inside one read-only
// transaction, giving the whole batch a consistent snapshot.
type BadgerLibrarian struct {
	db *badger.DB
}

// BadgerLibrarianConfig configures the BadgerDB Librarian.
type BadgerLibrarianConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// InMemory runs BadgerDB without touching disk (DBPath is ignored)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// NewBadgerLibrarian opens (or creates) the catalog database and makes sure
// the global root collection and the Shepherd registry entry exist.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Database location and cache sizing
//
// Returns:
//   - *BadgerLibrarian: A store ready for concurrent use
//   - error: Error if the database cannot be opened or initialized
func NewBadgerLibrarian(ctx context.Context, config BadgerLibrarianConfig) (*BadgerLibrarian, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	store := &BadgerLibrarian{db: db}
	if err := store.initializeWellKnown(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize well-known entries: %w", err)
	}

	logger.Debug("Opened badger librarian at %s", config.DBPath)
	return store, nil
}

// initializeWellKnown creates "0" and "1" unless they already exist.
func (s *BadgerLibrarian) initializeWellKnown() error {
	wellKnown := map[string]*catalog.Metadata{
		catalog.GlobalRootGUID:       {Entry: catalog.Entry{Type: catalog.EntryTypeCollection}},
		catalog.ShepherdRegistryGUID: {},
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for guid, md := range wellKnown {
			_, err := txn.Get(keyEntry(guid))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("failed to check entry %s: %w", guid, err)
			}
			data, err := encodeMetadata(md)
			if err != nil {
				return err
			}
			if err := txn.Set(keyEntry(guid), data); err != nil {
				return fmt.Errorf("failed to create entry %s: %w", guid, err)
			}
		}
		return nil
	})
}

func (s *BadgerLibrarian) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return &catalog.StoreError{Code: catalog.ErrClosed, Message: "librarian is closed"}
	}
	return nil
}

// getEntry loads one entry inside txn. Missing entries yield (nil, nil).
func getEntry(txn *badger.Txn, guid string) (*catalog.Metadata, error) {
	item, err := txn.Get(keyEntry(guid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &catalog.StoreError{Code: catalog.ErrIOError, Message: err.Error(), GUID: guid}
	}

	var md *catalog.Metadata
	err = item.Value(func(val []byte) error {
		md, err = decodeMetadata(val)
		return err
	})
	if err != nil {
		return nil, &catalog.StoreError{Code: catalog.ErrIOError, Message: err.Error(), GUID: guid}
	}
	return md, nil
}

func putEntry(txn *badger.Txn, guid string, md *catalog.Metadata) error {
	data, err := encodeMetadata(md)
	if err != nil {
		return err
	}
	return txn.Set(keyEntry(guid), data)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerLibrarian) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// TraverseLN resolves every name in one read-only transaction.
func (s *BadgerLibrarian) TraverseLN(ctx context.Context, names map[string]string) (map[string]catalog.Traversal, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]catalog.Traversal, len(names))
	err := s.db.View(func(txn *badger.Txn) error {
		get := func(guid string) (*catalog.Metadata, error) {
			return getEntry(txn, guid)
		}
		for id, name := range names {
			tr, err := catalog.Traverse(name, get)
			if err != nil {
				return err
			}
			results[id] = tr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Get returns filtered metadata of the existing GUIDs.
func (s *BadgerLibrarian) Get(ctx context.Context, guids []string, filters []catalog.Filter) (map[string]*catalog.Metadata, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]*catalog.Metadata, len(guids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, guid := range guids {
			md, err := getEntry(txn, guid)
			if err != nil {
				return err
			}
			if md != nil {
				results[guid] = md.Filter(filters)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// New creates each entry in its own transaction.
func (s *BadgerLibrarian) New(ctx context.Context, entries map[string]*catalog.Metadata) (map[string]catalog.NewResult, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]catalog.NewResult, len(entries))
	for id, md := range entries {
		if md == nil {
			md = &catalog.Metadata{}
		}
		guid := md.Entry.GUID
		if guid == "" {
			guid = uuid.NewString()
		}

		status := catalog.StatusDone
		err := s.update(func(txn *badger.Txn) error {
			existing, err := getEntry(txn, guid)
			if err != nil {
				return err
			}
			if existing != nil {
				status = catalog.StatusExists
				return nil
			}
			status = catalog.StatusDone
			return putEntry(txn, guid, md)
		})
		if err != nil {
			logger.Warn("Failed to create catalog entry %s: %v", guid, err)
			status = catalog.StatusFailed
		}
		results[id] = catalog.NewResult{GUID: guid, Status: status}
	}
	return results, nil
}

// Remove deletes each GUID in its own transaction.
func (s *BadgerLibrarian) Remove(ctx context.Context, guids map[string]string) (map[string]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(guids))
	for id, guid := range guids {
		status := catalog.StatusRemoved
		err := s.update(func(txn *badger.Txn) error {
			existing, err := getEntry(txn, guid)
			if err != nil {
				return err
			}
			if existing == nil {
				status = catalog.StatusNoSuchGUID
				return nil
			}
			status = catalog.StatusRemoved
			return txn.Delete(keyEntry(guid))
		})
		if err != nil {
			status = "failed: " + err.Error()
		}
		results[id] = status
	}
	return results, nil
}

// ModifyMetadata applies each change in its own transaction.
func (s *BadgerLibrarian) ModifyMetadata(ctx context.Context, changes map[string]catalog.Change) (map[string]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(changes))
	for id, change := range changes {
		var status string
		err := s.update(func(txn *badger.Txn) error {
			md, err := getEntry(txn, change.GUID)
			if err != nil {
				return err
			}
			if md == nil {
				status = catalog.StatusNoSuchGUID
				return nil
			}
			status = md.Apply(change)
			if status != catalog.StatusSet && status != catalog.StatusUnset {
				return nil
			}
			return putEntry(txn, change.GUID, md)
		})
		if err != nil {
			status = "failed: " + err.Error()
		}
		results[id] = status
	}
	return results, nil
}

// Healthcheck verifies the database is open and readable.
func (s *BadgerLibrarian) Healthcheck(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyEntry(catalog.GlobalRootGUID))
		return err
	})
}

// Close flushes and closes the database.
func (s *BadgerLibrarian) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
