// Package enclave defines the contract between the signing workflow and a
// hardware key provider: access policies, opaque key handles, the
// authentication context shared by a generate/sign pair, and the error
// taxonomy every layer classifies failures with.
package enclave
