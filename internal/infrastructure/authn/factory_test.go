//go:build unit
// +build unit

package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := testutil.SetupTestLogger(t)

	tests := []struct {
		name          string
		settings      *config.AuthSettings
		expectedType  interface{}
		expectedError bool
	}{
		{
			name:         "terminal",
			settings:     &config.AuthSettings{Mode: config.AuthModeTerminal, Timeout: time.Second},
			expectedType: &TerminalAuthenticator{},
		},
		{
			name:         "none",
			settings:     &config.AuthSettings{Mode: config.AuthModeNone, Timeout: time.Second},
			expectedType: DenyAuthenticator{},
		},
		{
			name:         "configured PIN",
			settings:     &config.AuthSettings{Mode: config.AuthModeNone, PIN: "1234", Timeout: time.Second},
			expectedType: &PINAuthenticator{},
		},
		{
			name:          "invalid mode",
			settings:      &config.AuthSettings{Mode: "biometric", Timeout: time.Second},
			expectedError: true,
		},
		{
			name:          "zero timeout",
			settings:      &config.AuthSettings{Mode: config.AuthModeTerminal},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticator, err := New(tt.settings, logger)
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expectedType, authenticator)
		})
	}
}

func TestPINAuthenticator(t *testing.T) {
	ctx := context.Background()

	a := NewPINAuthenticator("1234", DenyAuthenticator{})
	pin, err := a.Authenticate(ctx, enclave.Prompt{Reason: "PIN", Secret: true})
	require.NoError(t, err)
	assert.Equal(t, "1234", pin)

	_, err = a.Authenticate(ctx, enclave.Prompt{Reason: "Approve"})
	assert.True(t, errors.Is(err, enclave.ErrAuthentication))
	assert.False(t, a.Enrolled())

	stub := &testutil.StubAuthenticator{}
	a = NewPINAuthenticator("1234", stub)
	_, err = a.Authenticate(ctx, enclave.Prompt{Reason: "Approve"})
	assert.NoError(t, err)
	assert.Len(t, stub.Prompts, 1)
	assert.True(t, a.Enrolled())

	a = NewPINAuthenticator("1234", nil)
	assert.False(t, a.Enrolled())
	_, err = a.Authenticate(ctx, enclave.Prompt{Reason: "Approve"})
	assert.True(t, errors.Is(err, enclave.ErrAuthentication))
}
