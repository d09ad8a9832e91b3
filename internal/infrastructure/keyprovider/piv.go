//go:build cgo

package keyprovider

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"

	"github.com/go-piv/piv-go/v2/piv"
)

type pivKeyHandle struct {
	ref        pivKeyRef
	publicKey  *ecdsa.PublicKey
	policy     enclave.AccessPolicy
	provenance enclave.Provenance
	auth       *enclave.AuthContext
}

func (h *pivKeyHandle) DataRepresentation() []byte { return h.ref.encode() }
func (h *pivKeyHandle) PublicKey() *ecdsa.PublicKey { return h.publicKey }
func (h *pivKeyHandle) Policy() enclave.AccessPolicy { return h.policy }
func (h *pivKeyHandle) Provenance() enclave.Provenance { return h.provenance }

// pivProvider keeps one P-256 key in a PIV slot of a YubiKey. Generating a
// key replaces whatever the slot held before.
type pivProvider struct {
	settings      *config.PIVSettings
	logger        logger.Logger
	slot          piv.Slot
	managementKey []byte

	yk     *piv.YubiKey
	serial uint32
}

// NewPIVProvider validates the slot and management key; the card is opened lazily.
func NewPIVProvider(settings *config.PIVSettings, logger logger.Logger) (enclave.Provider, error) {
	if settings == nil {
		return nil, fmt.Errorf("PIV settings cannot be nil")
	}
	slot, err := parsePIVSlot(settings.Slot)
	if err != nil {
		return nil, err
	}
	managementKey, err := parseManagementKey(settings.ManagementKey)
	if err != nil {
		return nil, err
	}
	return &pivProvider{
		settings:      settings,
		logger:        logger,
		slot:          slot,
		managementKey: managementKey,
	}, nil
}

func (p *pivProvider) IsAvailable(_ context.Context) bool {
	if err := p.open(); err != nil {
		p.logger.Warn("YubiKey unavailable: ", err)
		return false
	}
	return true
}

func (p *pivProvider) GenerateKey(ctx context.Context, policy enclave.AccessPolicy, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	key := piv.Key{
		Algorithm:   piv.AlgorithmEC256,
		PINPolicy:   pivPINPolicy(policy),
		TouchPolicy: pivTouchPolicy(policy),
	}
	pub, err := p.yk.GenerateKey(p.managementKey, p.slot, key)
	if err != nil {
		return nil, classifyPIVError("generate key", err)
	}
	publicKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ECDSA public key, got %T", enclave.ErrHardware, pub)
	}

	ref, err := p.keyRef(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	p.logger.Info("Generated PIV key in slot ", p.settings.Slot, " on YubiKey ", p.serial)
	return &pivKeyHandle{
		ref:        ref,
		publicKey:  publicKey,
		policy:     policy,
		provenance: enclave.ProvenanceGenerated,
		auth:       auth,
	}, nil
}

func (p *pivProvider) ImportKey(_ context.Context, blob []byte, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	ref, err := decodePIVKeyRef(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrDecoding, err)
	}
	slot, err := pivSlotFromKey(ref.SlotKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrDecoding, err)
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	if ref.Serial != p.serial {
		return nil, fmt.Errorf("%w: key belongs to YubiKey %d, not %d", enclave.ErrHardware, ref.Serial, p.serial)
	}

	cert, err := p.yk.Attest(slot)
	if err != nil {
		return nil, classifyPIVError("attest slot", err)
	}
	publicKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: slot does not hold an ECDSA key", enclave.ErrHardware)
	}
	pkix, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	if publicKeyFingerprint(pkix) != ref.Fingerprint {
		return nil, fmt.Errorf("%w: slot no longer holds this key", enclave.ErrHardware)
	}

	policy := enclave.DefaultAccessPolicy()
	if pivKeyPolicy, ok := p.attestedPolicy(cert); ok {
		policy = pivKeyPolicy
	}

	p.logger.Info("Imported PIV key from slot ", fmt.Sprintf("%x", ref.SlotKey))
	return &pivKeyHandle{
		ref:        ref,
		publicKey:  publicKey,
		policy:     policy,
		provenance: enclave.ProvenanceImported,
		auth:       auth,
	}, nil
}

func (p *pivProvider) Sign(ctx context.Context, handle enclave.KeyHandle, payload []byte) ([]byte, error) {
	h, ok := handle.(*pivKeyHandle)
	if !ok {
		return nil, fmt.Errorf("%w: key handle does not belong to the PIV provider", enclave.ErrHardware)
	}
	slot, err := pivSlotFromKey(h.ref.SlotKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	var promptErr error
	keyAuth := piv.KeyAuth{
		PINPrompt: func() (string, error) {
			pin, err := h.auth.Secret(ctx, "Enter the YubiKey PIN")
			promptErr = err
			return pin, err
		},
		PINPolicy: pivPINPolicy(h.policy),
	}

	privateKey, err := p.yk.PrivateKey(slot, h.publicKey, keyAuth)
	if err != nil {
		return nil, classifyPIVError("open private key", err)
	}
	signer, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: slot key cannot sign", enclave.ErrHardware)
	}

	if h.policy.RequireBiometry {
		p.logger.Warn("Touch the YubiKey to approve the signature")
	}

	digest := sha256.Sum256(payload)
	signature, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		if promptErr != nil {
			return nil, promptErr
		}
		var authErr piv.AuthErr
		if errors.As(err, &authErr) {
			h.auth.Invalidate()
		}
		return nil, classifyPIVError("sign", err)
	}
	return signature, nil
}

func (p *pivProvider) Close() error {
	if p.yk == nil {
		return nil
	}
	err := p.yk.Close()
	p.yk = nil
	return err
}

func (p *pivProvider) open() error {
	if p.yk != nil {
		return nil
	}

	cards, err := piv.Cards()
	if err != nil {
		return fmt.Errorf("failed to list smart cards: %w", err)
	}

	want := strings.ToLower(p.settings.Reader)
	if want == "" {
		want = "yubikey"
	}
	for _, card := range cards {
		if !strings.Contains(strings.ToLower(card), want) {
			continue
		}
		yk, err := piv.Open(card)
		if err != nil {
			p.logger.Warn("Failed to open ", card, ": ", err)
			continue
		}
		serial, err := yk.Serial()
		if err != nil {
			_ = yk.Close()
			return fmt.Errorf("failed to read serial of %s: %w", card, err)
		}
		p.yk, p.serial = yk, serial
		return nil
	}
	return fmt.Errorf("no smart card reader matching %q", want)
}

func (p *pivProvider) keyRef(publicKey *ecdsa.PublicKey) (pivKeyRef, error) {
	pkix, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return pivKeyRef{}, err
	}
	return pivKeyRef{
		Serial:      p.serial,
		SlotKey:     p.slot.Key,
		Fingerprint: publicKeyFingerprint(pkix),
	}, nil
}

// attestedPolicy recovers the access policy from the PIN and touch policy
// recorded in a slot attestation.
func (p *pivProvider) attestedPolicy(slotCert *x509.Certificate) (enclave.AccessPolicy, bool) {
	attestationCert, err := p.yk.AttestationCertificate()
	if err != nil {
		return enclave.AccessPolicy{}, false
	}
	att, err := piv.Verify(attestationCert, slotCert)
	if err != nil {
		p.logger.Warn("Slot attestation did not verify: ", err)
		return enclave.AccessPolicy{}, false
	}
	return enclave.NewAccessPolicy(att.PINPolicy == piv.PINPolicyAlways, att.TouchPolicy == piv.TouchPolicyAlways), true
}

func pivPINPolicy(policy enclave.AccessPolicy) piv.PINPolicy {
	if policy.RequiresUnlocked() {
		return piv.PINPolicyAlways
	}
	return piv.PINPolicyOnce
}

func pivTouchPolicy(policy enclave.AccessPolicy) piv.TouchPolicy {
	if policy.RequireBiometry {
		return piv.TouchPolicyAlways
	}
	return piv.TouchPolicyNever
}

func parsePIVSlot(s string) (piv.Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "9a":
		return piv.SlotAuthentication, nil
	case "9c", "":
		return piv.SlotSignature, nil
	case "9d":
		return piv.SlotKeyManagement, nil
	case "9e":
		return piv.SlotCardAuthentication, nil
	default:
		return piv.Slot{}, fmt.Errorf("unsupported PIV slot %q (use 9a, 9c, 9d or 9e)", s)
	}
}

func pivSlotFromKey(k uint32) (piv.Slot, error) {
	for _, slot := range []piv.Slot{piv.SlotAuthentication, piv.SlotSignature, piv.SlotKeyManagement, piv.SlotCardAuthentication} {
		if slot.Key == k {
			return slot, nil
		}
	}
	return piv.Slot{}, fmt.Errorf("unsupported PIV slot key 0x%x", k)
}

func parseManagementKey(s string) ([]byte, error) {
	if s == "" || strings.EqualFold(strings.TrimSpace(s), "default") {
		return piv.DefaultManagementKey, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid management key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("management key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}

func classifyPIVError(op string, err error) error {
	var authErr piv.AuthErr
	if errors.As(err, &authErr) || errors.Is(err, enclave.ErrAuthentication) {
		return fmt.Errorf("%w: %s: %w", enclave.ErrAuthentication, op, err)
	}
	return fmt.Errorf("%w: %s: %w", enclave.ErrHardware, op, err)
}
