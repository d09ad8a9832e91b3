package keyprovider

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/cryptoalg"
	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/infrastructure/cryptography"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Software blob layout: magic | policy | nonce | sealed PKCS#8 key.
// magic and policy form the AEAD additional data.
const (
	softwareBlobMagic  = "SEK1"
	softwareHeaderSize = len(softwareBlobMagic) + 1
	softwareNonceSize  = chacha20poly1305.NonceSizeX
	softwareMinBlob    = softwareHeaderSize + softwareNonceSize + chacha20poly1305.Overhead

	deviceKeySize = 32
	wrapKeyInfo   = "sep-sign software enclave key wrap v1"
)

const (
	policyBitUnlocked byte = 1 << iota
	policyBitBiometry
)

type softwareKeyHandle struct {
	blob       []byte
	privateKey *ecdsa.PrivateKey
	policy     enclave.AccessPolicy
	provenance enclave.Provenance
	auth       *enclave.AuthContext
}

func (h *softwareKeyHandle) DataRepresentation() []byte {
	return bytes.Clone(h.blob)
}

func (h *softwareKeyHandle) PublicKey() *ecdsa.PublicKey {
	return &h.privateKey.PublicKey
}

func (h *softwareKeyHandle) Policy() enclave.AccessPolicy {
	return h.policy
}

func (h *softwareKeyHandle) Provenance() enclave.Provenance {
	return h.provenance
}

// softwareProvider emulates a secure enclave on hosts without one. Private
// keys only leave the process sealed under a key derived from a device root
// key that is created on first use and never exported.
type softwareProvider struct {
	settings  *config.SoftwareSettings
	processor cryptoalg.ECDSAProcessor
	logger    logger.Logger
	aead      cipher.AEAD
}

// NewSoftwareProvider creates a software enclave backed by the device key at settings.DeviceKeyPath.
func NewSoftwareProvider(settings *config.SoftwareSettings, logger logger.Logger) (enclave.Provider, error) {
	if settings == nil {
		return nil, fmt.Errorf("software settings cannot be nil")
	}
	if settings.DeviceKeyPath == "" {
		return nil, fmt.Errorf("device key path cannot be empty")
	}

	processor, err := cryptography.NewECDSAProcessor(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ECDSA processor: %w", err)
	}

	return &softwareProvider{
		settings:  settings,
		processor: processor,
		logger:    logger,
	}, nil
}

func (p *softwareProvider) IsAvailable(_ context.Context) bool {
	if err := p.open(); err != nil {
		p.logger.Warn("Software enclave unavailable: ", err)
		return false
	}
	return true
}

func (p *softwareProvider) GenerateKey(ctx context.Context, policy enclave.AccessPolicy, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: software enclave unavailable: %w", enclave.ErrHardware, err)
	}

	if policy.RequireBiometry {
		if !auth.CanEvaluate() {
			return nil, fmt.Errorf("%w: policy requires user presence but no authentication method is enrolled", enclave.ErrHardware)
		}
		if err := auth.Evaluate(ctx, "Authorize creation of a new signing key"); err != nil {
			return nil, err
		}
	}

	privateKey, err := p.processor.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	blob, err := p.seal(policy, privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	p.logger.Info("Generated software enclave key with policy ", policy)
	return &softwareKeyHandle{
		blob:       blob,
		privateKey: privateKey,
		policy:     policy,
		provenance: enclave.ProvenanceGenerated,
		auth:       auth,
	}, nil
}

func (p *softwareProvider) ImportKey(_ context.Context, blob []byte, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	policy, err := decodeSoftwareHeader(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrDecoding, err)
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: software enclave unavailable: %w", enclave.ErrHardware, err)
	}

	header := blob[:softwareHeaderSize]
	nonce := blob[softwareHeaderSize : softwareHeaderSize+softwareNonceSize]
	sealed := blob[softwareHeaderSize+softwareNonceSize:]

	plaintext, err := p.aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return nil, fmt.Errorf("%w: key was not created by this device", enclave.ErrHardware)
	}

	privateKey, err := p.processor.ParsePrivateKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed key is unusable: %w", enclave.ErrHardware, err)
	}

	p.logger.Info("Imported software enclave key with policy ", policy)
	return &softwareKeyHandle{
		blob:       bytes.Clone(blob),
		privateKey: privateKey,
		policy:     policy,
		provenance: enclave.ProvenanceImported,
		auth:       auth,
	}, nil
}

func (p *softwareProvider) Sign(ctx context.Context, handle enclave.KeyHandle, payload []byte) ([]byte, error) {
	h, ok := handle.(*softwareKeyHandle)
	if !ok {
		return nil, fmt.Errorf("%w: key handle does not belong to the software enclave", enclave.ErrHardware)
	}

	if h.policy.RequireBiometry || h.policy.RequiresUnlocked() {
		if err := h.auth.Evaluate(ctx, "Sign with your device key"); err != nil {
			return nil, err
		}
	}

	signature, err := p.processor.Sign(payload, h.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	return signature, nil
}

func (p *softwareProvider) Close() error {
	p.aead = nil
	return nil
}

func (p *softwareProvider) open() error {
	if p.aead != nil {
		return nil
	}

	deviceKey, err := loadOrCreateDeviceKey(p.settings.DeviceKeyPath)
	if err != nil {
		return err
	}

	wrapKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, deviceKey, nil, []byte(wrapKeyInfo)), wrapKey); err != nil {
		return fmt.Errorf("failed to derive wrap key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	p.aead = aead
	return nil
}

func (p *softwareProvider) seal(policy enclave.AccessPolicy, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	plaintext, err := p.processor.MarshalPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, softwareHeaderSize+softwareNonceSize, softwareMinBlob+len(plaintext))
	copy(blob, softwareBlobMagic)
	blob[len(softwareBlobMagic)] = encodePolicy(policy)

	nonce := blob[softwareHeaderSize:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return p.aead.Seal(blob, nonce, plaintext, blob[:softwareHeaderSize]), nil
}

func encodePolicy(policy enclave.AccessPolicy) byte {
	var b byte
	if policy.RequiresUnlocked() {
		b |= policyBitUnlocked
	}
	if policy.RequireBiometry {
		b |= policyBitBiometry
	}
	return b
}

func decodeSoftwareHeader(blob []byte) (enclave.AccessPolicy, error) {
	if len(blob) < softwareMinBlob {
		return enclave.AccessPolicy{}, fmt.Errorf("key blob too short (%d bytes)", len(blob))
	}
	if string(blob[:len(softwareBlobMagic)]) != softwareBlobMagic {
		return enclave.AccessPolicy{}, errors.New("unrecognized key blob format")
	}
	b := blob[len(softwareBlobMagic)]
	if b&^(policyBitUnlocked|policyBitBiometry) != 0 {
		return enclave.AccessPolicy{}, fmt.Errorf("unknown policy bits 0x%02x", b)
	}
	return enclave.NewAccessPolicy(b&policyBitUnlocked != 0, b&policyBitBiometry != 0), nil
}

// loadOrCreateDeviceKey returns the device root key, creating it with
// owner-only permissions when it does not exist yet.
func loadOrCreateDeviceKey(path string) ([]byte, error) {
	key, err := os.ReadFile(filepath.Clean(path))
	if err == nil {
		if len(key) != deviceKeySize {
			return nil, fmt.Errorf("device key %s is corrupt", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read device key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create device key directory: %w", err)
	}

	key = make([]byte, deviceKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		// another invocation created it first
		return loadOrCreateDeviceKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create device key: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write device key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write device key: %w", err)
	}
	return key, nil
}
