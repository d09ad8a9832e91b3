package config

import (
	"fmt"
	"os"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Settings aggregates everything a sep-sign invocation can be configured with.
type Settings struct {
	Logger   LoggerSettings
	Provider ProviderSettings
	Auth     AuthSettings
}

// Load builds settings from defaults overridden by lookup and validates them.
// A nil lookup reads the process environment.
func Load(lookup LookupFunc) (*Settings, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	s := &Settings{
		Logger:   DefaultLoggerSettings(),
		Provider: ProviderSettings{Type: ProviderSoftware, PIV: PIVSettings{Slot: DefaultPIVSlot, ManagementKey: "default"}},
		Auth:     DefaultAuthSettings(),
	}

	s.Logger.applyEnv(lookup)
	if err := s.Provider.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := s.Auth.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate validates every section.
func (s *Settings) Validate() error {
	if err := s.Logger.Validate(); err != nil {
		return err
	}
	if err := s.Provider.Validate(); err != nil {
		return err
	}
	if err := s.Auth.Validate(); err != nil {
		return err
	}
	return nil
}

// String omits secrets.
func (s *Settings) String() string {
	return fmt.Sprintf("provider=%s log_level=%s log_type=%s auth_mode=%s auth_timeout=%s",
		s.Provider.Type, s.Logger.LogLevel, s.Logger.LogType, s.Auth.Mode, s.Auth.Timeout)
}
