package cryptoalg

import (
	"crypto/ecdsa"
)

// ECDSAProcessor handles ECDSA P-256 operations with SHA-256 digests.
// Signatures are ASN.1 DER encoded.
type ECDSAProcessor interface {
	// GenerateKey generates a P-256 key pair.
	GenerateKey() (*ecdsa.PrivateKey, error)

	// Sign hashes message with SHA-256 and signs the digest.
	Sign(message []byte, privateKey *ecdsa.PrivateKey) ([]byte, error)

	// MarshalPublicKey encodes the key as a PKIX SubjectPublicKeyInfo.
	MarshalPublicKey(publicKey *ecdsa.PublicKey) ([]byte, error)

	// MarshalPrivateKey encodes the key as PKCS#8.
	MarshalPrivateKey(privateKey *ecdsa.PrivateKey) ([]byte, error)

	// ParsePrivateKey decodes a PKCS#8 P-256 private key.
	ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error)
}
