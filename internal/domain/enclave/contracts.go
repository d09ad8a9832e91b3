package enclave

import (
	"context"
	"crypto/ecdsa"
)

// Provenance records how a handle came into existence.
type Provenance int

const (
	// ProvenanceGenerated handles were created by GenerateKey in this invocation.
	ProvenanceGenerated Provenance = iota
	// ProvenanceImported handles were re-materialised from an export blob.
	ProvenanceImported
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceGenerated:
		return "generated"
	case ProvenanceImported:
		return "imported"
	default:
		return "unknown"
	}
}

// KeyHandle is an opaque reference to a P-256 private key held by a provider.
// The private scalar is never reachable through it.
type KeyHandle interface {
	// DataRepresentation is the device-bound export blob. Only the provider
	// that produced it on the same device can import it again.
	DataRepresentation() []byte
	// PublicKey returns the public half of the key.
	PublicKey() *ecdsa.PublicKey
	// Policy returns the access policy the key was generated with.
	Policy() AccessPolicy
	Provenance() Provenance
}

// Provider is a secure coprocessor capable of generating, importing and
// using P-256 signing keys that never leave it.
type Provider interface {
	// IsAvailable reports whether the device is present and usable. It never fails.
	IsAvailable(ctx context.Context) bool

	// GenerateKey creates a new key under policy. Failures wrap ErrHardware,
	// or ErrAuthentication when a required presence check is refused.
	GenerateKey(ctx context.Context, policy AccessPolicy, auth *AuthContext) (KeyHandle, error)

	// ImportKey re-materialises a key from a blob previously returned by
	// DataRepresentation. A malformed blob wraps ErrDecoding; a well-formed
	// blob the device cannot open wraps ErrHardware.
	ImportKey(ctx context.Context, blob []byte, auth *AuthContext) (KeyHandle, error)

	// Sign returns an ASN.1 DER ECDSA signature over SHA-256(payload). The
	// digest is computed by the provider. Refused or cancelled user
	// authentication wraps ErrAuthentication; anything else wraps ErrHardware.
	Sign(ctx context.Context, handle KeyHandle, payload []byte) ([]byte, error)

	// Close releases sessions and device handles.
	Close() error
}
