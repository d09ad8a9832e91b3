package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
)

// CreateTestFile create a test files
func CreateTestFile(fileName string, content []byte) error {
	err := os.WriteFile(fileName, content, 0600)
	if err != nil {
		return fmt.Errorf("failed to create test file: %w", err)
	}
	return nil
}

// SoftwareSettings returns software enclave settings with the device key in
// a fresh temporary directory. The key itself is created on first use.
func SoftwareSettings(t *testing.T) *config.SoftwareSettings {
	t.Helper()
	return &config.SoftwareSettings{
		DeviceKeyPath: filepath.Join(t.TempDir(), "sep-sign", "device.key"),
	}
}
