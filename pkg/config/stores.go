package config

import (
	"context"
	"fmt"

	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/catalog/badger"
	"github.com/marmos91/bartender/pkg/catalog/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateLibrarian creates the catalog backend selected by cfg.Type.
//
// Supported types:
//   - "memory": pkg/catalog/memory (ephemeral)
//   - "badger": pkg/catalog/badger (persistent)
//
// The returned store already holds the well-known entries "0" and "1".
func CreateLibrarian(ctx context.Context, cfg *LibrarianConfig) (catalog.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryLibrarian(ctx)
	case "badger":
		return createBadgerLibrarian(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown librarian type: %q (supported: memory, badger)", cfg.Type)
	}
}

func createMemoryLibrarian(ctx context.Context) (catalog.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return memory.NewMemoryLibrarian(), nil
}

func createBadgerLibrarian(ctx context.Context, options map[string]any) (catalog.Store, error) {
	var badgerCfg badger.BadgerLibrarianConfig
	if err := mapstructure.Decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger librarian: db_path is required")
	}

	store, err := badger.NewBadgerLibrarian(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger librarian: %w", err)
	}
	return store, nil
}
