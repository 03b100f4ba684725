package config

import (
	"context"
	"fmt"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/registry"
)

// InitializeRegistry creates the Librarian and the hosted Shepherds and
// registers them.
//
// The returned shepherds are registered but idle: the caller runs their
// heartbeat and reconcile loops. On error every resource created so far
// is released.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, shepherds, err := config.InitializeRegistry(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to initialize registry: %w", err)
//	}
func InitializeRegistry(ctx context.Context, cfg *Config) (*registry.Registry, []*HostedShepherd, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing registry from configuration")

	reg := registry.NewRegistry()

	lib, err := CreateLibrarian(ctx, &cfg.Librarian)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create librarian: %w", err)
	}
	if err := reg.SetLibrarian(lib); err != nil {
		_ = lib.Close()
		return nil, nil, err
	}
	logger.Debug("Librarian %q registered", cfg.Librarian.Type)

	shepherds, err := CreateShepherds(ctx, cfg.Shepherds, lib)
	if err != nil {
		_ = lib.Close()
		return nil, nil, fmt.Errorf("failed to create shepherds: %w", err)
	}
	for _, s := range shepherds {
		if err := reg.RegisterShepherd(s.Node); err != nil {
			_ = lib.Close()
			return nil, nil, err
		}
	}
	logger.Debug("Registered %d shepherd(s)", reg.CountShepherds())

	return reg, shepherds, nil
}
