package config

import (
	"fmt"

	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/metrics"
	"github.com/marmos91/bartender/pkg/registry"
)

// CreateAuthorizer returns the authorization hook named by cfg.
func CreateAuthorizer(cfg *BartenderConfig) (bartender.Authorizer, error) {
	switch cfg.Authorization {
	case "", "permit_all":
		return bartender.PermitAll{}, nil
	case "policy":
		return bartender.PolicyAuthorizer{}, nil
	default:
		return nil, fmt.Errorf("unknown authorization: %q (supported: permit_all, policy)", cfg.Authorization)
	}
}

// CreateService builds the orchestration service over the registry's
// Librarian and Shepherds.
func CreateService(cfg *Config, reg *registry.Registry, bartenderMetrics metrics.BartenderMetrics) (*bartender.Service, error) {
	lib := reg.Librarian()
	if lib == nil {
		return nil, fmt.Errorf("no librarian registered")
	}

	authorizer, err := CreateAuthorizer(&cfg.Bartender)
	if err != nil {
		return nil, err
	}

	return bartender.New(lib, reg, bartender.Config{
		LibrarianTimeout: cfg.Bartender.LibrarianTimeout,
		ShepherdTimeout:  cfg.Bartender.ShepherdTimeout,
		HeartbeatTimeout: cfg.Bartender.HeartbeatTimeout,
	},
		bartender.WithAuthorizer(authorizer),
		bartender.WithMetrics(bartenderMetrics),
	), nil
}
