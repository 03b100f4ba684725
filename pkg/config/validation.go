package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/bartender/pkg/catalog"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	ids := make(map[string]bool)
	for i, s := range cfg.Shepherds {
		if s.ID == catalog.GlobalRootGUID || s.ID == catalog.ShepherdRegistryGUID {
			return fmt.Errorf("shepherds[%d]: id %q is reserved", i, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("shepherds[%d]: duplicate shepherd id %q", i, s.ID)
		}
		ids[s.ID] = true

		// A node that heartbeats less often than the timeout flaps between
		// alive and stale
		if s.HeartbeatInterval >= cfg.Bartender.HeartbeatTimeout {
			return fmt.Errorf("shepherds[%d]: heartbeat_interval %v must be shorter than bartender.heartbeat_timeout %v",
				i, s.HeartbeatInterval, cfg.Bartender.HeartbeatTimeout)
		}
	}

	if !cfg.Adapters.HTTP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.HTTP.Port {
		return fmt.Errorf("server.metrics.port %d conflicts with adapters.http.port", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
