//go:build !cgo

package keyprovider

import (
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"
)

// NewPKCS11Provider is unavailable without cgo.
func NewPKCS11Provider(_ *config.PKCS11Settings, _ logger.Logger) (enclave.Provider, error) {
	return nil, fmt.Errorf("%w: PKCS#11 support requires a cgo build", enclave.ErrHardware)
}

// NewPIVProvider is unavailable without cgo.
func NewPIVProvider(_ *config.PIVSettings, _ logger.Logger) (enclave.Provider, error) {
	return nil, fmt.Errorf("%w: PIV support requires a cgo build", enclave.ErrHardware)
}
