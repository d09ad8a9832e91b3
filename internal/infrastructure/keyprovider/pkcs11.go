//go:build cgo

package keyprovider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/infrastructure/cryptography"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/miekg/pkcs11"
)

// Key labels record the protection class on the token, so an imported key
// keeps the policy it was generated with: sep-sign:<class>:<uuid>.
const pkcs11LabelPrefix = "sep-sign:"

var errObjectNotFound = errors.New("object not found")

type pkcs11KeyHandle struct {
	ref                pkcs11KeyRef
	privateKey         pkcs11.ObjectHandle
	publicKey          *ecdsa.PublicKey
	policy             enclave.AccessPolicy
	provenance         enclave.Provenance
	alwaysAuthenticate bool
	auth               *enclave.AuthContext
}

func (h *pkcs11KeyHandle) DataRepresentation() []byte { return h.ref.encode() }
func (h *pkcs11KeyHandle) PublicKey() *ecdsa.PublicKey { return h.publicKey }
func (h *pkcs11KeyHandle) Policy() enclave.AccessPolicy { return h.policy }
func (h *pkcs11KeyHandle) Provenance() enclave.Provenance { return h.provenance }

// pkcs11Provider generates non-extractable P-256 keys on a PKCS#11 token.
type pkcs11Provider struct {
	settings *config.PKCS11Settings
	logger   logger.Logger

	ctx              *pkcs11.Ctx
	session          pkcs11.SessionHandle
	serial           string
	loggedIn         bool
	interactiveLogin bool
}

// NewPKCS11Provider creates a provider for the token labelled settings.TokenLabel.
// The module is loaded lazily.
func NewPKCS11Provider(settings *config.PKCS11Settings, logger logger.Logger) (enclave.Provider, error) {
	if settings == nil {
		return nil, fmt.Errorf("PKCS#11 settings cannot be nil")
	}
	return &pkcs11Provider{
		settings: settings,
		logger:   logger,
	}, nil
}

func (p *pkcs11Provider) IsAvailable(_ context.Context) bool {
	if err := p.open(); err != nil {
		p.logger.Warn("PKCS#11 token unavailable: ", err)
		return false
	}
	return true
}

func (p *pkcs11Provider) GenerateKey(ctx context.Context, policy enclave.AccessPolicy, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	if err := p.login(ctx, auth, policy.RequiresUnlocked()); err != nil {
		return nil, err
	}

	id := uuid.New()
	label := pkcs11Label(policy.ProtectionClass, id)

	publicTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, cryptography.P256Params),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id[:]),
	}
	privateTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id[:]),
	}
	if policy.RequireBiometry {
		privateTemplate = append(privateTemplate, pkcs11.NewAttribute(pkcs11.CKA_ALWAYS_AUTHENTICATE, true))
	}

	publicHandle, privateHandle, err := p.ctx.GenerateKeyPair(p.session,
		[]*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)},
		publicTemplate, privateTemplate)
	if err != nil {
		return nil, classifyPKCS11Error("generate key pair", err)
	}

	publicKey, err := p.readPublicKey(publicHandle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	p.logger.Info("Generated PKCS#11 key ", label, " on token ", p.serial)
	return &pkcs11KeyHandle{
		ref:                pkcs11KeyRef{TokenSerial: p.serial, ID: append([]byte(nil), id[:]...)},
		privateKey:         privateHandle,
		publicKey:          publicKey,
		policy:             policy,
		provenance:         enclave.ProvenanceGenerated,
		alwaysAuthenticate: policy.RequireBiometry,
		auth:               auth,
	}, nil
}

func (p *pkcs11Provider) ImportKey(ctx context.Context, blob []byte, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	ref, err := decodePKCS11KeyRef(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrDecoding, err)
	}
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	if ref.TokenSerial != p.serial {
		return nil, fmt.Errorf("%w: key belongs to token %q, not %q", enclave.ErrHardware, ref.TokenSerial, p.serial)
	}
	if err := p.login(ctx, auth, false); err != nil {
		return nil, err
	}

	privateHandle, err := p.findObject(pkcs11.CKO_PRIVATE_KEY, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: private key not present on token: %w", enclave.ErrHardware, err)
	}
	publicHandle, err := p.findObject(pkcs11.CKO_PUBLIC_KEY, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: public key not present on token: %w", enclave.ErrHardware, err)
	}
	publicKey, err := p.readPublicKey(publicHandle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	attrs, err := p.ctx.GetAttributeValue(p.session, privateHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		pkcs11.NewAttribute(pkcs11.CKA_ALWAYS_AUTHENTICATE, nil),
	})
	if err != nil {
		return nil, classifyPKCS11Error("read key attributes", err)
	}
	alwaysAuthenticate := len(attrs[1].Value) > 0 && attrs[1].Value[0] != 0
	policy := enclave.NewAccessPolicy(
		pkcs11LabelClass(string(attrs[0].Value)) == enclave.WhenUnlockedThisDeviceOnly,
		alwaysAuthenticate,
	)

	p.logger.Info("Imported PKCS#11 key ", string(attrs[0].Value))
	return &pkcs11KeyHandle{
		ref:                ref,
		privateKey:         privateHandle,
		publicKey:          publicKey,
		policy:             policy,
		provenance:         enclave.ProvenanceImported,
		alwaysAuthenticate: alwaysAuthenticate,
		auth:               auth,
	}, nil
}

func (p *pkcs11Provider) Sign(ctx context.Context, handle enclave.KeyHandle, payload []byte) ([]byte, error) {
	h, ok := handle.(*pkcs11KeyHandle)
	if !ok {
		return nil, fmt.Errorf("%w: key handle does not belong to the PKCS#11 provider", enclave.ErrHardware)
	}
	if err := p.login(ctx, h.auth, h.policy.RequiresUnlocked()); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := p.ctx.SignInit(p.session, mechanism, h.privateKey); err != nil {
		return nil, classifyPKCS11Error("sign init", err)
	}

	if h.alwaysAuthenticate {
		pin, err := h.auth.Secret(ctx, "Enter the PIN to approve this signature")
		if err != nil {
			return nil, err
		}
		if err := p.ctx.Login(p.session, pkcs11.CKU_CONTEXT_SPECIFIC, pin); err != nil {
			h.auth.Invalidate()
			return nil, classifyPKCS11Error("context specific login", err)
		}
	}

	raw, err := p.ctx.Sign(p.session, digest[:])
	if err != nil {
		return nil, classifyPKCS11Error("sign", err)
	}

	signature, err := cryptography.RawSignatureToDER(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	return signature, nil
}

func (p *pkcs11Provider) Close() error {
	if p.ctx == nil {
		return nil
	}
	var errs []error
	if p.loggedIn {
		if err := p.ctx.Logout(p.session); err != nil {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		}
	}
	if err := p.ctx.CloseSession(p.session); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := p.ctx.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalize: %w", err))
	}
	p.ctx.Destroy()
	p.ctx = nil
	p.loggedIn = false
	return errors.Join(errs...)
}

func (p *pkcs11Provider) open() error {
	if p.ctx != nil {
		return nil
	}

	ctx := pkcs11.New(p.settings.ModulePath)
	if ctx == nil {
		return fmt.Errorf("failed to load PKCS#11 module %s", p.settings.ModulePath)
	}
	if err := ctx.Initialize(); err != nil && !isPKCS11Code(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		ctx.Destroy()
		return fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}

	slot, serial, err := findTokenSlot(ctx, p.settings.TokenLabel)
	if err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return err
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return fmt.Errorf("failed to open session: %w", err)
	}

	p.ctx, p.session, p.serial = ctx, session, serial
	p.logger.Info("Opened session on token ", p.settings.TokenLabel, " (serial ", serial, ")")
	return nil
}

func findTokenSlot(ctx *pkcs11.Ctx, label string) (uint, string, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, "", fmt.Errorf("failed to list slots: %w", err)
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if strings.TrimSpace(info.Label) == label {
			return slot, strings.TrimSpace(info.SerialNumber), nil
		}
	}
	return 0, "", fmt.Errorf("token %q not found", label)
}

// login authenticates the session. When interactive is set a PIN from the
// provider configuration is not sufficient and the user is asked instead.
func (p *pkcs11Provider) login(ctx context.Context, auth *enclave.AuthContext, interactive bool) error {
	if p.loggedIn && (p.interactiveLogin || !interactive) {
		return nil
	}
	if p.loggedIn {
		_ = p.ctx.Logout(p.session)
		p.loggedIn = false
	}

	pin := p.settings.UserPin
	fromUser := interactive || pin == ""
	if fromUser {
		var err error
		pin, err = auth.Secret(ctx, fmt.Sprintf("Enter the user PIN for token %q", p.settings.TokenLabel))
		if err != nil {
			return err
		}
	}

	if err := p.ctx.Login(p.session, pkcs11.CKU_USER, pin); err != nil && !isPKCS11Code(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
		if fromUser {
			auth.Invalidate()
		}
		return classifyPKCS11Error("login", err)
	}
	p.loggedIn, p.interactiveLogin = true, fromUser
	return nil
}

func (p *pkcs11Provider) findObject(class uint, id []byte) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}
	if err := p.ctx.FindObjectsInit(p.session, template); err != nil {
		return 0, err
	}
	objects, _, err := p.ctx.FindObjects(p.session, 1)
	if finalErr := p.ctx.FindObjectsFinal(p.session); err == nil {
		err = finalErr
	}
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, errObjectNotFound
	}
	return objects[0], nil
}

func (p *pkcs11Provider) readPublicKey(handle pkcs11.ObjectHandle) (*ecdsa.PublicKey, error) {
	attrs, err := p.ctx.GetAttributeValue(p.session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	if !bytes.Equal(attrs[0].Value, cryptography.P256Params) {
		return nil, fmt.Errorf("key is not on P-256")
	}
	return cryptography.PublicKeyFromPoint(attrs[1].Value)
}

func pkcs11Label(class enclave.ProtectionClass, id uuid.UUID) string {
	return pkcs11LabelPrefix + string(class) + ":" + id.String()
}

func pkcs11LabelClass(label string) enclave.ProtectionClass {
	parts := strings.SplitN(strings.TrimPrefix(label, pkcs11LabelPrefix), ":", 2)
	if enclave.ProtectionClass(parts[0]) == enclave.WhenUnlockedThisDeviceOnly {
		return enclave.WhenUnlockedThisDeviceOnly
	}
	return enclave.AfterFirstUnlockThisDeviceOnly
}

func isPKCS11Code(err error, code uint) bool {
	var p11err pkcs11.Error
	return errors.As(err, &p11err) && uint(p11err) == code
}

func classifyPKCS11Error(op string, err error) error {
	var p11err pkcs11.Error
	if errors.As(err, &p11err) {
		switch uint(p11err) {
		case pkcs11.CKR_PIN_INCORRECT, pkcs11.CKR_PIN_LOCKED, pkcs11.CKR_PIN_EXPIRED,
			pkcs11.CKR_PIN_LEN_RANGE, pkcs11.CKR_USER_NOT_LOGGED_IN, pkcs11.CKR_FUNCTION_CANCELED:
			return fmt.Errorf("%w: %s: %w", enclave.ErrAuthentication, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", enclave.ErrHardware, op, err)
}
