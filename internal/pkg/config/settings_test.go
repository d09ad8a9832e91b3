//go:build unit
// +build unit

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	modulePath := filepath.Join(tmpDir, "libsofthsm2.so")
	require.NoError(t, os.WriteFile(modulePath, []byte{}, 0600))
	deviceKey := filepath.Join(tmpDir, "device.key")

	tests := []struct {
		name          string
		env           map[string]string
		expectedError string
		check         func(t *testing.T, s *Settings)
	}{
		{
			name: "software provider with explicit device key",
			env:  map[string]string{EnvDeviceKeyPath: deviceKey},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, ProviderSoftware, s.Provider.Type)
				assert.Equal(t, deviceKey, s.Provider.Software.DeviceKeyPath)
				assert.Equal(t, AuthModeTerminal, s.Auth.Mode)
				assert.Equal(t, time.Minute, s.Auth.Timeout)
				assert.Equal(t, LogLevelWarning, s.Logger.LogLevel)
			},
		},
		{
			name: "pkcs11 provider",
			env: map[string]string{
				EnvProvider:         "PKCS11",
				EnvPKCS11ModulePath: modulePath,
				EnvPKCS11TokenLabel: "sep-sign",
				EnvPKCS11UserPin:    "1234",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, ProviderPKCS11, s.Provider.Type)
				assert.Equal(t, modulePath, s.Provider.PKCS11.ModulePath)
				assert.Equal(t, "sep-sign", s.Provider.PKCS11.TokenLabel)
				assert.Equal(t, "1234", s.Provider.PKCS11.UserPin)
			},
		},
		{
			name:          "pkcs11 provider missing variables",
			env:           map[string]string{EnvProvider: ProviderPKCS11},
			expectedError: "missing required environment variables: PKCS11_MODULE_PATH, PKCS11_TOKEN_LABEL",
		},
		{
			name: "pkcs11 module does not exist",
			env: map[string]string{
				EnvProvider:         ProviderPKCS11,
				EnvPKCS11ModulePath: filepath.Join(tmpDir, "missing.so"),
				EnvPKCS11TokenLabel: "sep-sign",
			},
			expectedError: "Field: ModulePath, Tag: file",
		},
		{
			name: "piv provider defaults",
			env:  map[string]string{EnvProvider: ProviderPIV},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, DefaultPIVSlot, s.Provider.PIV.Slot)
				assert.Equal(t, "default", s.Provider.PIV.ManagementKey)
			},
		},
		{
			name:          "piv provider invalid slot",
			env:           map[string]string{EnvProvider: ProviderPIV, EnvPIVSlot: "82"},
			expectedError: "Field: Slot, Tag: oneof",
		},
		{
			name:          "piv provider invalid management key",
			env:           map[string]string{EnvProvider: ProviderPIV, EnvPIVManagementKey: "0102"},
			expectedError: "Field: ManagementKey, Tag: managementkey",
		},
		{
			name:          "unknown provider",
			env:           map[string]string{EnvProvider: "tpm"},
			expectedError: `unsupported provider "tpm"`,
		},
		{
			name: "auth settings",
			env: map[string]string{
				EnvDeviceKeyPath: deviceKey,
				EnvAuthMode:      AuthModeNone,
				EnvAuthPIN:       "123456",
				EnvAuthTimeout:   "5s",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, AuthModeNone, s.Auth.Mode)
				assert.Equal(t, "123456", s.Auth.PIN)
				assert.Equal(t, 5*time.Second, s.Auth.Timeout)
				assert.NotContains(t, s.String(), "123456")
			},
		},
		{
			name:          "invalid auth timeout",
			env:           map[string]string{EnvDeviceKeyPath: deviceKey, EnvAuthTimeout: "soon"},
			expectedError: "invalid SEP_SIGN_AUTH_TIMEOUT",
		},
		{
			name:          "invalid auth mode",
			env:           map[string]string{EnvDeviceKeyPath: deviceKey, EnvAuthMode: "biometric"},
			expectedError: "validation failed for AuthSettings",
		},
		{
			name:          "invalid log level",
			env:           map[string]string{EnvDeviceKeyPath: deviceKey, EnvLogLevel: "verbose"},
			expectedError: "validation failed for LoggerSettings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Load(mapLookup(tt.env))
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	deviceKey := filepath.Join(t.TempDir(), "device.key")
	t.Setenv(EnvProvider, ProviderSoftware)
	t.Setenv(EnvDeviceKeyPath, deviceKey)
	t.Setenv(EnvAuthMode, AuthModeNone)

	s, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, deviceKey, s.Provider.Software.DeviceKeyPath)
	assert.Equal(t, AuthModeNone, s.Auth.Mode)
}

func TestDefaultDeviceKeyPath(t *testing.T) {
	path, err := DefaultDeviceKeyPath()
	if err != nil {
		t.Skipf("no user config dir: %v", err)
	}
	assert.Equal(t, "device.key", filepath.Base(path))
	assert.Equal(t, "sep-sign", filepath.Base(filepath.Dir(path)))
}
