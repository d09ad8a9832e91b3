package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JackOfMostTrades/sep-sign/internal/pkg/validators"

	"github.com/go-playground/validator/v10"
)

// Provider type constants
const (
	ProviderSoftware = "software"
	ProviderPKCS11   = "pkcs11"
	ProviderPIV      = "piv"
)

// Provider environment variable names
const (
	EnvProvider         = "SEP_SIGN_PROVIDER"
	EnvDeviceKeyPath    = "SEP_SIGN_DEVICE_KEY"
	EnvPKCS11ModulePath = "PKCS11_MODULE_PATH"
	EnvPKCS11TokenLabel = "PKCS11_TOKEN_LABEL"
	EnvPKCS11UserPin    = "PKCS11_USER_PIN"
	EnvPIVReader        = "PIV_READER"
	EnvPIVSlot          = "PIV_SLOT"
	EnvPIVManagementKey = "PIV_MANAGEMENT_KEY"
)

// DefaultPIVSlot is the PIV digital signature slot.
const DefaultPIVSlot = "9c"

// SoftwareSettings configures the software enclave.
type SoftwareSettings struct {
	// DeviceKeyPath is the file holding the device root key. It is created
	// on first use.
	DeviceKeyPath string `mapstructure:"device_key_path" validate:"required"`
}

// PKCS11Settings holds the settings needed to open a session on a PKCS#11 token
type PKCS11Settings struct {
	ModulePath string `mapstructure:"module_path" validate:"required,file"`
	TokenLabel string `mapstructure:"token_label" validate:"required"`
	// UserPin is optional. When empty the PIN is requested interactively.
	UserPin string `mapstructure:"user_pin"`
}

// PIVSettings selects the smart card and slot used by the PIV provider
type PIVSettings struct {
	// Reader is a case-insensitive substring of the card reader name. Empty
	// selects the first YubiKey found.
	Reader        string `mapstructure:"reader"`
	Slot          string `mapstructure:"slot" validate:"required,oneof=9a 9c 9d 9e"`
	ManagementKey string `mapstructure:"management_key" validate:"required,managementkey"`
}

// ProviderSettings selects and configures the hardware key provider
type ProviderSettings struct {
	Type     string           `mapstructure:"type" validate:"required,oneof=software pkcs11 piv"`
	Software SoftwareSettings `mapstructure:"software"`
	PKCS11   PKCS11Settings   `mapstructure:"pkcs11"`
	PIV      PIVSettings      `mapstructure:"piv"`
}

// DefaultDeviceKeyPath returns <user config dir>/sep-sign/device.key.
func DefaultDeviceKeyPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "sep-sign", "device.key"), nil
}

// Validate checks the selected provider's settings. Settings of providers
// that are not selected are ignored.
func (s *ProviderSettings) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation(validators.ManagementKeyTag, validators.ManagementKeyValidation); err != nil {
		return fmt.Errorf("failed to register validation: %w", err)
	}

	if err := validate.Var(s.Type, "required,oneof=software pkcs11 piv"); err != nil {
		return fmt.Errorf("validation failed for ProviderSettings: unsupported provider %q", s.Type)
	}

	var target interface{}
	switch s.Type {
	case ProviderSoftware:
		target = &s.Software
	case ProviderPKCS11:
		target = &s.PKCS11
	case ProviderPIV:
		target = &s.PIV
	}

	if err := validate.Struct(target); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var fields []string
			for _, fieldErr := range validationErrors {
				fields = append(fields, fmt.Sprintf("Field: %s, Tag: %s", fieldErr.Field(), fieldErr.Tag()))
			}
			return fmt.Errorf("validation failed for %s provider: %s", s.Type, strings.Join(fields, "; "))
		}
		return fmt.Errorf("validation failed for %s provider: %w", s.Type, err)
	}
	return nil
}

func (s *ProviderSettings) applyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvProvider); ok && v != "" {
		s.Type = strings.ToLower(v)
	}

	if v, ok := lookup(EnvDeviceKeyPath); ok && v != "" {
		s.Software.DeviceKeyPath = v
	}
	if s.Type == ProviderSoftware && s.Software.DeviceKeyPath == "" {
		path, err := DefaultDeviceKeyPath()
		if err != nil {
			return err
		}
		s.Software.DeviceKeyPath = path
	}

	if s.Type == ProviderPKCS11 {
		var missing []string
		for _, name := range []string{EnvPKCS11ModulePath, EnvPKCS11TokenLabel} {
			if v, ok := lookup(name); !ok || v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
		}
	}
	if v, ok := lookup(EnvPKCS11ModulePath); ok {
		s.PKCS11.ModulePath = v
	}
	if v, ok := lookup(EnvPKCS11TokenLabel); ok {
		s.PKCS11.TokenLabel = v
	}
	if v, ok := lookup(EnvPKCS11UserPin); ok {
		s.PKCS11.UserPin = v
	}

	if v, ok := lookup(EnvPIVReader); ok {
		s.PIV.Reader = v
	}
	if v, ok := lookup(EnvPIVSlot); ok && v != "" {
		s.PIV.Slot = strings.ToLower(v)
	}
	if v, ok := lookup(EnvPIVManagementKey); ok && v != "" {
		s.PIV.ManagementKey = v
	}
	return nil
}
