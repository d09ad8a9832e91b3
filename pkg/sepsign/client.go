// Package sepsign runs a sep-sign binary and decodes its output.
//
// Keys never leave the hardware provider used by the binary; callers keep
// the opaque export blob returned by Generate and hand it back to SignData.
package sepsign

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// DefaultBinary is looked up in PATH when Client.BinaryPath is empty.
const DefaultBinary = "sep-sign"

// Client invokes a sep-sign binary.
type Client struct {
	// BinaryPath is the executable to run. Defaults to DefaultBinary.
	BinaryPath string
	// Env is appended to the current process environment.
	Env []string
	// Stderr receives the binary's logs and prompts. Defaults to os.Stderr.
	Stderr io.Writer
}

// GenerateOptions selects the access policy of a new key. The options are
// only understood by the policy-aware binary.
type GenerateOptions struct {
	RequireBiometry bool
	RequireUnlocked bool
}

// ExitError reports a failed invocation with the diagnostic it printed.
type ExitError struct {
	ExitCode   int
	Diagnostic string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("sep-sign exited with status %d: %s", e.ExitCode, e.Diagnostic)
}

type execOutput struct {
	IsAvailable bool   `json:"isAvailable"`
	PrivateKey  []byte `json:"privateKey"`
	PublicKey   []byte `json:"publicKey"`
	Signature   []byte `json:"signature"`
}

// IsAvailable reports whether the binary's key provider can be used.
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	output, err := c.exec(ctx)
	if err != nil {
		return false, err
	}
	return output.IsAvailable, nil
}

// Generate creates a new key and returns its export blob and public key.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) ([]byte, *ecdsa.PublicKey, error) {
	args := []string{"--generate"}
	if opts.RequireBiometry {
		args = append(args, "--requireBiometry")
	}
	if opts.RequireUnlocked {
		args = append(args, "--requireUnlocked")
	}

	output, err := c.exec(ctx, args...)
	if err != nil {
		return nil, nil, err
	}
	if len(output.PrivateKey) == 0 || len(output.PublicKey) == 0 {
		return nil, nil, fmt.Errorf("sep-sign output is missing the generated key")
	}

	parsed, err := x509.ParsePKIXPublicKey(output.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse returned public key: %w", err)
	}
	publicKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("returned public key is %T, not ECDSA", parsed)
	}
	return output.PrivateKey, publicKey, nil
}

// SignData signs data with the key exported as privateKey and returns an
// ASN.1 DER ECDSA signature over SHA-256(data).
func (c *Client) SignData(ctx context.Context, privateKey []byte, data []byte) ([]byte, error) {
	output, err := c.exec(ctx,
		"--key", base64.StdEncoding.EncodeToString(privateKey),
		"--data", base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return nil, err
	}
	if len(output.Signature) == 0 {
		return nil, fmt.Errorf("sep-sign output is missing the signature")
	}
	return output.Signature, nil
}

// Verify checks a signature produced by SignData.
func Verify(publicKey *ecdsa.PublicKey, data, signature []byte) bool {
	if publicKey == nil {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(publicKey, digest[:], signature)
}

func (c *Client) exec(ctx context.Context, args ...string) (*execOutput, error) {
	path := c.BinaryPath
	if path == "" {
		path = DefaultBinary
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{
				ExitCode:   exitErr.ExitCode(),
				Diagnostic: strings.TrimSpace(stdout.String()),
			}
		}
		return nil, fmt.Errorf("failed to run %s: %w", path, err)
	}

	output := new(execOutput)
	if err := json.Unmarshal(stdout.Bytes(), output); err != nil {
		return nil, fmt.Errorf("failed to JSON decode sep-sign output: %w", err)
	}
	return output, nil
}
