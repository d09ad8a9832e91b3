//go:build unit
// +build unit

package keyprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := testutil.SetupTestLogger(t)

	t.Run("software", func(t *testing.T) {
		provider, err := New(&config.ProviderSettings{
			Type:     config.ProviderSoftware,
			Software: *testutil.SoftwareSettings(t),
		}, logger)
		require.NoError(t, err)
		defer provider.Close()
		assert.True(t, provider.IsAvailable(context.Background()))
	})

	tests := []struct {
		name     string
		settings *config.ProviderSettings
	}{
		{"nil settings", nil},
		{"unknown type", &config.ProviderSettings{Type: "tpm"}},
		{"software without device key", &config.ProviderSettings{Type: config.ProviderSoftware}},
		{"pkcs11 without module", &config.ProviderSettings{Type: config.ProviderPKCS11}},
		{"piv with bad slot", &config.ProviderSettings{Type: config.ProviderPIV, PIV: config.PIVSettings{Slot: "82", ManagementKey: "default"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := New(tt.settings, logger)
			require.Error(t, err)
			assert.Nil(t, provider)
			assert.True(t, errors.Is(err, enclave.ErrHardware))
		})
	}
}
