package validators

import (
	"encoding/hex"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ManagementKeyTag is the struct tag name ManagementKeyValidation is registered under.
const ManagementKeyTag = "managementkey"

// ManagementKeyValidation accepts "default" or a hex encoded 3DES/AES management
// key (16, 24 or 32 bytes, optional 0x prefix).
func ManagementKeyValidation(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if strings.EqualFold(value, "default") {
		return true
	}

	key, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return false
	}
	switch len(key) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}
