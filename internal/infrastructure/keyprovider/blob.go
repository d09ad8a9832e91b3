package keyprovider

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Token and card blobs only reference a key that stays on the device; they
// carry no key material.
const (
	pkcs11BlobMagic = "P11K"
	pkcs11IDSize    = 16

	pivBlobMagic = "PIVK"
	pivBlobSize  = len(pivBlobMagic) + 4 + 4 + sha256.Size
)

type pkcs11KeyRef struct {
	TokenSerial string
	ID          []byte
}

func (r pkcs11KeyRef) encode() []byte {
	blob := make([]byte, 0, len(pkcs11BlobMagic)+1+len(r.TokenSerial)+len(r.ID))
	blob = append(blob, pkcs11BlobMagic...)
	blob = append(blob, byte(len(r.TokenSerial)))
	blob = append(blob, r.TokenSerial...)
	return append(blob, r.ID...)
}

func decodePKCS11KeyRef(blob []byte) (pkcs11KeyRef, error) {
	if len(blob) < len(pkcs11BlobMagic)+1 || string(blob[:len(pkcs11BlobMagic)]) != pkcs11BlobMagic {
		return pkcs11KeyRef{}, errors.New("unrecognized key blob format")
	}
	rest := blob[len(pkcs11BlobMagic):]
	serialLen := int(rest[0])
	rest = rest[1:]
	if len(rest) != serialLen+pkcs11IDSize {
		return pkcs11KeyRef{}, fmt.Errorf("malformed PKCS#11 key reference (%d bytes)", len(blob))
	}
	return pkcs11KeyRef{
		TokenSerial: string(rest[:serialLen]),
		ID:          append([]byte(nil), rest[serialLen:]...),
	}, nil
}

type pivKeyRef struct {
	Serial      uint32
	SlotKey     uint32
	Fingerprint [sha256.Size]byte
}

func (r pivKeyRef) encode() []byte {
	blob := make([]byte, 0, pivBlobSize)
	blob = append(blob, pivBlobMagic...)
	blob = binary.BigEndian.AppendUint32(blob, r.Serial)
	blob = binary.BigEndian.AppendUint32(blob, r.SlotKey)
	return append(blob, r.Fingerprint[:]...)
}

func decodePIVKeyRef(blob []byte) (pivKeyRef, error) {
	if len(blob) < len(pivBlobMagic) || string(blob[:len(pivBlobMagic)]) != pivBlobMagic {
		return pivKeyRef{}, errors.New("unrecognized key blob format")
	}
	if len(blob) != pivBlobSize {
		return pivKeyRef{}, fmt.Errorf("malformed PIV key reference (%d bytes)", len(blob))
	}
	rest := blob[len(pivBlobMagic):]
	ref := pivKeyRef{
		Serial:  binary.BigEndian.Uint32(rest[0:4]),
		SlotKey: binary.BigEndian.Uint32(rest[4:8]),
	}
	copy(ref.Fingerprint[:], rest[8:])
	return ref, nil
}

// publicKeyFingerprint is SHA-256 over the PKIX encoding.
func publicKeyFingerprint(pkix []byte) [sha256.Size]byte {
	return sha256.Sum256(pkix)
}
