// Package keyprovider implements the hardware key providers sep-sign can
// drive: a software enclave sealed to a per-device root key, PKCS#11
// tokens, and YubiKey PIV applets.
package keyprovider
