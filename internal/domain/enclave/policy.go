package enclave

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ProtectionClass states when a key may be used relative to the device lock state.
type ProtectionClass string

const (
	// AfterFirstUnlockThisDeviceOnly keys are usable once the device has been
	// unlocked after boot and never leave the device.
	AfterFirstUnlockThisDeviceOnly ProtectionClass = "afterFirstUnlockThisDeviceOnly"
	// WhenUnlockedThisDeviceOnly keys are usable only while the device is
	// unlocked and never leave the device.
	WhenUnlockedThisDeviceOnly ProtectionClass = "whenUnlockedThisDeviceOnly"
)

// UsageFlag is a capability or constraint attached to a key.
type UsageFlag string

const (
	// PrivateKeyUsage allows signing with the private key. Every policy carries it.
	PrivateKeyUsage UsageFlag = "privateKeyUsage"
	// BiometryCurrentSet requires user presence with the currently enrolled set.
	BiometryCurrentSet UsageFlag = "biometryCurrentSet"
)

// AccessPolicy is the immutable set of constraints attached to a newly generated key.
type AccessPolicy struct {
	ProtectionClass ProtectionClass `validate:"required,oneof=afterFirstUnlockThisDeviceOnly whenUnlockedThisDeviceOnly"`
	RequireBiometry bool
}

// NewAccessPolicy maps the two user-facing switches to a policy.
func NewAccessPolicy(requireUnlocked, requireBiometry bool) AccessPolicy {
	class := AfterFirstUnlockThisDeviceOnly
	if requireUnlocked {
		class = WhenUnlockedThisDeviceOnly
	}
	return AccessPolicy{ProtectionClass: class, RequireBiometry: requireBiometry}
}

// DefaultAccessPolicy is the policy used when the caller cannot choose one:
// device-local, non-exportable, no user presence.
func DefaultAccessPolicy() AccessPolicy {
	return NewAccessPolicy(false, false)
}

// Flags lists the usage flags implied by the policy.
func (p AccessPolicy) Flags() []UsageFlag {
	if p.RequireBiometry {
		return []UsageFlag{PrivateKeyUsage, BiometryCurrentSet}
	}
	return []UsageFlag{PrivateKeyUsage}
}

// RequiresUnlocked reports whether the key is restricted to an unlocked device.
func (p AccessPolicy) RequiresUnlocked() bool {
	return p.ProtectionClass == WhenUnlockedThisDeviceOnly
}

// Validate rejects policies with an unknown protection class. The error
// wraps ErrHardware since a provider cannot construct such a policy.
func (p AccessPolicy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range validationErrors {
				return fmt.Errorf("%w: invalid access policy: Field: %s, Tag: %s", ErrHardware, fieldErr.Field(), fieldErr.Tag())
			}
		}
		return fmt.Errorf("%w: invalid access policy: %w", ErrHardware, err)
	}
	return nil
}

// String renders the policy for log lines.
func (p AccessPolicy) String() string {
	return fmt.Sprintf("%s%v", p.ProtectionClass, p.Flags())
}
