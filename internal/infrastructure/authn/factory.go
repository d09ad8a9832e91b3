package authn

import (
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"
)

// New builds the authenticator described by settings.
func New(settings *config.AuthSettings, logger logger.Logger) (enclave.Authenticator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var authenticator enclave.Authenticator
	switch settings.Mode {
	case config.AuthModeTerminal:
		authenticator = NewTerminalAuthenticator(settings.Timeout, logger)
	case config.AuthModeNone:
		authenticator = DenyAuthenticator{}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", settings.Mode)
	}

	if settings.PIN != "" {
		authenticator = NewPINAuthenticator(settings.PIN, authenticator)
	}
	return authenticator, nil
}
