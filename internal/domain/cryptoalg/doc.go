// Package cryptoalg defines the host-side cryptographic operations that back the software
// enclave and verify what hardware providers produce.
package cryptoalg
