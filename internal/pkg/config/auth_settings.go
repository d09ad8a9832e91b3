package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Authentication mode constants
const (
	AuthModeTerminal = "terminal"
	AuthModeNone     = "none"
)

// Authentication environment variable names
const (
	EnvAuthMode    = "SEP_SIGN_AUTH_MODE"
	EnvAuthPIN     = "SEP_SIGN_PIN"
	EnvAuthTimeout = "SEP_SIGN_AUTH_TIMEOUT"
)

// AuthSettings controls how user authentication prompts are answered
type AuthSettings struct {
	Mode string `mapstructure:"mode" validate:"required,oneof=terminal none"`
	// PIN answers PIN prompts without user interaction. Presence prompts
	// are never answered from configuration.
	PIN     string        `mapstructure:"pin"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// DefaultAuthSettings prompts on the controlling terminal with a one minute timeout.
func DefaultAuthSettings() AuthSettings {
	return AuthSettings{
		Mode:    AuthModeTerminal,
		Timeout: time.Minute,
	}
}

// Validate checks that all fields in AuthSettings are valid
func (s *AuthSettings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("validation failed for AuthSettings: %w", err)
	}
	return nil
}

func (s *AuthSettings) applyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvAuthMode); ok && v != "" {
		s.Mode = v
	}
	if v, ok := lookup(EnvAuthPIN); ok {
		s.PIN = v
	}
	if v, ok := lookup(EnvAuthTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAuthTimeout, err)
		}
		s.Timeout = d
	}
	return nil
}
