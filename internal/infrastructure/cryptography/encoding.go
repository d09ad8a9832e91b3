package cryptography

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
)

// P256Params is the DER encoded namedCurve OID for P-256, as PKCS#11 expects in CKA_EC_PARAMS.
var P256Params = []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}

// RawSignatureToDER converts a fixed-width r||s signature, as returned by
// PKCS#11 CKM_ECDSA, into ASN.1 DER.
func RawSignatureToDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid raw signature length %d", len(raw))
	}
	r := new(big.Int).SetBytes(raw[:len(raw)/2])
	s := new(big.Int).SetBytes(raw[len(raw)/2:])

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// PublicKeyFromPoint builds a P-256 public key from an uncompressed SEC 1
// point. A point wrapped in a DER OCTET STRING (CKA_EC_POINT) is unwrapped first.
func PublicKeyFromPoint(point []byte) (*ecdsa.PublicKey, error) {
	if len(point) != 65 || point[0] != 0x04 {
		in := cryptobyte.String(point)
		var inner cryptobyte.String
		if !in.ReadASN1(&inner, cbasn1.OCTET_STRING) || !in.Empty() {
			return nil, fmt.Errorf("invalid EC point encoding")
		}
		point = inner
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidPublicKeyECDSA)
			b.AddASN1ObjectIdentifier(oidNamedCurveP256)
		})
		b.AddASN1BitString(point)
	})
	spki, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	key, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("invalid EC point: %w", err)
	}
	publicKey, ok := key.(*ecdsa.PublicKey)
	if !ok || publicKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("EC point is not on P-256")
	}
	return publicKey, nil
}
