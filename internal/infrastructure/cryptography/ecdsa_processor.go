package cryptography

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/cryptoalg"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"
)

// ecdsaProcessor struct that implements the ECDSAProcessor interface
type ecdsaProcessor struct {
	logger logger.Logger
}

// NewECDSAProcessor creates and returns a new instance of ecdsaProcessor
func NewECDSAProcessor(logger logger.Logger) (cryptoalg.ECDSAProcessor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &ecdsaProcessor{
		logger: logger,
	}, nil
}

// GenerateKey generates a P-256 key pair.
func (e *ecdsaProcessor) GenerateKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}

	e.logger.Info("Generated P-256 key pair")
	return privateKey, nil
}

// Sign hashes message with SHA-256 and returns an ASN.1 DER signature.
func (e *ecdsaProcessor) Sign(message []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unsupported curve %s", privateKey.Curve.Params().Name)
	}

	hash := sha256.Sum256(message)
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	e.logger.Info("ECDSA signing succeeded")
	return signature, nil
}

// MarshalPublicKey encodes the key as a PKIX SubjectPublicKeyInfo.
func (e *ecdsaProcessor) MarshalPublicKey(publicKey *ecdsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key cannot be nil")
	}
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// MarshalPrivateKey encodes the key as PKCS#8.
func (e *ecdsaProcessor) MarshalPrivateKey(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return der, nil
}

// ParsePrivateKey decodes a PKCS#8 P-256 private key.
func (e *ecdsaProcessor) ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	privateKey, ok := key.(*ecdsa.PrivateKey)
	if !ok || privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("private key is not a P-256 ECDSA key")
	}
	return privateKey, nil
}
