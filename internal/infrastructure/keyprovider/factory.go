package keyprovider

import (
	"errors"
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"
)

// New creates the provider selected by settings.Type. Configuration
// problems wrap enclave.ErrHardware.
func New(settings *config.ProviderSettings, logger logger.Logger) (enclave.Provider, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: provider settings cannot be nil", enclave.ErrHardware)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	var (
		provider enclave.Provider
		err      error
	)
	switch settings.Type {
	case config.ProviderSoftware:
		provider, err = NewSoftwareProvider(&settings.Software, logger)
	case config.ProviderPKCS11:
		provider, err = NewPKCS11Provider(&settings.PKCS11, logger)
	case config.ProviderPIV:
		provider, err = NewPIVProvider(&settings.PIV, logger)
	default:
		err = fmt.Errorf("unsupported provider %q", settings.Type)
	}
	if errors.Is(err, enclave.ErrHardware) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s provider: %w", enclave.ErrHardware, settings.Type, err)
	}

	logger.Info("Using ", settings.Type, " key provider")
	return provider, nil
}
