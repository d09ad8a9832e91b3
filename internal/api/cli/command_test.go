//go:build unit
// +build unit

package cli

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
	"path/filepath"
	"strings"
	"testing"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type output struct {
	IsAvailable *bool   `json:"isAvailable"`
	PrivateKey  *string `json:"privateKey"`
	PublicKey   *string `json:"publicKey"`
	Signature   *string `json:"signature"`
}

type harness struct {
	t              *testing.T
	env            map[string]string
	policyControls bool
	authenticator  enclave.Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	testutil.SetupTestLogger(t)
	return &harness{
		t: t,
		env: map[string]string{
			config.EnvDeviceKeyPath: filepath.Join(t.TempDir(), "device.key"),
			config.EnvAuthMode:      config.AuthModeNone,
		},
		policyControls: true,
	}
}

func (h *harness) lookup(key string) (string, bool) {
	v, ok := h.env[key]
	return v, ok
}

// run executes args and returns the exit status and the single stdout line.
func (h *harness) run(args ...string) (int, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, Options{
		Use:            "sep-sign",
		PolicyControls: h.policyControls,
		Stdout:         &stdout,
		Stderr:         &stderr,
		LookupEnv:      h.lookup,
		Authenticator:  h.authenticator,
	})

	out := stdout.String()
	require.True(h.t, strings.HasSuffix(out, "\n"), "stdout must end with a newline: %q", out)
	require.Equal(h.t, 1, strings.Count(out, "\n"), "stdout must be a single line: %q", out)
	return code, strings.TrimSuffix(out, "\n")
}

func (h *harness) success(args ...string) output {
	h.t.Helper()
	code, line := h.run(args...)
	require.Equal(h.t, 0, code, line)

	var out output
	require.NoError(h.t, json.Unmarshal([]byte(line), &out))
	require.NotNil(h.t, out.IsAvailable)
	return out
}

func (h *harness) failure(args ...string) string {
	h.t.Helper()
	code, line := h.run(args...)
	assert.Equal(h.t, 1, code)
	assert.False(h.t, json.Valid([]byte(line)), "diagnostic must not be JSON: %q", line)
	return line
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func verifySignature(t *testing.T, publicKey, signature string, payload []byte) {
	t.Helper()
	der, err := base64.StdEncoding.DecodeString(publicKey)
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	pub, ok := parsed.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, "P-256", pub.Curve.Params().Name)

	sig, err := base64.StdEncoding.DecodeString(signature)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	assert.True(t, ecdsa.VerifyASN1(pub, digest[:], sig))
}

func TestExecute_AvailabilityOnly(t *testing.T) {
	h := newHarness(t)
	out := h.success()
	assert.True(t, *out.IsAvailable)
	assert.Nil(t, out.PrivateKey)
	assert.Nil(t, out.PublicKey)
	assert.Nil(t, out.Signature)
}

func TestExecute_Generate(t *testing.T) {
	h := newHarness(t)
	out := h.success("--generate")
	assert.True(t, *out.IsAvailable)
	require.NotNil(t, out.PrivateKey)
	require.NotNil(t, out.PublicKey)
	assert.Nil(t, out.Signature)
}

func TestExecute_GenerateAndSign(t *testing.T) {
	h := newHarness(t)
	out := h.success("--generate", "--data", b64("hello world"))
	require.NotNil(t, out.PrivateKey)
	require.NotNil(t, out.PublicKey)
	require.NotNil(t, out.Signature)
	verifySignature(t, *out.PublicKey, *out.Signature, []byte("hello world"))
}

func TestExecute_RoundTrip(t *testing.T) {
	h := newHarness(t)
	generated := h.success("--generate")

	imported := h.success("--key", *generated.PrivateKey)
	assert.Nil(t, imported.PrivateKey)
	assert.Nil(t, imported.PublicKey)
	assert.Nil(t, imported.Signature)

	signed := h.success("--key", *generated.PrivateKey, "--data", b64("payload"))
	assert.Nil(t, signed.PrivateKey)
	assert.Nil(t, signed.PublicKey)
	require.NotNil(t, signed.Signature)
	verifySignature(t, *generated.PublicKey, *signed.Signature, []byte("payload"))
}

func TestExecute_EmptyData(t *testing.T) {
	h := newHarness(t)
	out := h.success("--generate", "--data", "")
	require.NotNil(t, out.Signature)
	verifySignature(t, *out.PublicKey, *out.Signature, []byte{})
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{"generate and key", []string{"--generate", "--key", "AAAA"}, "cannot specify both --generate and --key"},
		{"data without key", []string{"--data", "AAAA"}, "cannot specify --data without specifying --generate or --key"},
		{"unknown flag", []string{"--bogus"}, "unknown flag: --bogus"},
		{"missing key value", []string{"--key"}, "flag needs an argument"},
		{"missing data value", []string{"--generate", "--data"}, "flag needs an argument"},
		{"positional argument", []string{"--generate", "extra"}, "invalid argument: extra"},
		{"malformed key", []string{"--key", "not base64!"}, "invalid base64 for --key"},
		{"malformed data", []string{"--generate", "--data", "%%%"}, "invalid base64 for --data"},
		{"malformed blob", []string{"--key", "AAAA"}, "decoding error"},
		{"end of flags marker", []string{"--generate", "--"}, "argument error: invalid argument: --"},
		{"bare end of flags marker", []string{"--"}, "invalid argument: --"},
		{"short help", []string{"-h"}, "invalid argument: -h"},
		{"long help", []string{"--generate", "--help"}, "invalid argument: --help"},
		{"bool with value", []string{"--generate=false"}, "invalid argument: --generate=false"},
		{"key with inline value", []string{"--key=AAAA", "--data", "AAAA"}, "invalid argument: --key=AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			line := h.failure(tt.args...)
			assert.Contains(t, line, tt.contains)
		})
	}
}

func TestExecute_ArgumentErrorsPrecedeConfiguration(t *testing.T) {
	h := newHarness(t)
	h.env[config.EnvProvider] = "bogus"

	line := h.failure("--generate", "--key", "AAAA")
	assert.Contains(t, line, "argument error")

	line = h.failure("--generate")
	assert.Contains(t, line, "hardware error")
	assert.Contains(t, line, `unsupported provider "bogus"`)
}

func TestExecute_ForeignDeviceKey(t *testing.T) {
	h := newHarness(t)
	generated := h.success("--generate")

	other := newHarness(t)
	line := other.failure("--key", *generated.PrivateKey, "--data", b64("x"))
	assert.Contains(t, line, "hardware error")
}

func TestExecute_Biometry(t *testing.T) {
	t.Run("no authenticator enrolled", func(t *testing.T) {
		h := newHarness(t)
		line := h.failure("--generate", "--requireBiometry")
		assert.Contains(t, line, "hardware error")
	})

	t.Run("one prompt per invocation", func(t *testing.T) {
		h := newHarness(t)
		stub := &testutil.StubAuthenticator{}
		h.authenticator = stub

		generated := h.success("--generate", "--requireBiometry", "--data", b64("a"))
		verifySignature(t, *generated.PublicKey, *generated.Signature, []byte("a"))
		assert.Len(t, stub.Prompts, 1)

		signed := h.success("--key", *generated.PrivateKey, "--data", b64("b"))
		verifySignature(t, *generated.PublicKey, *signed.Signature, []byte("b"))
		assert.Len(t, stub.Prompts, 2)
	})

	t.Run("denied", func(t *testing.T) {
		h := newHarness(t)
		h.authenticator = &testutil.StubAuthenticator{Err: errors.New("user cancelled")}
		line := h.failure("--generate", "--requireBiometry")
		assert.Contains(t, line, "authentication error")
		assert.Contains(t, line, "user cancelled")
	})
}

func TestExecute_RequireUnlocked(t *testing.T) {
	h := newHarness(t)
	generated := h.success("--generate", "--requireUnlocked")

	line := h.failure("--key", *generated.PrivateKey, "--data", b64("x"))
	assert.Contains(t, line, "authentication error")

	h.authenticator = &testutil.StubAuthenticator{}
	signed := h.success("--key", *generated.PrivateKey, "--data", b64("x"))
	verifySignature(t, *generated.PublicKey, *signed.Signature, []byte("x"))
}

func TestExecute_SimplifiedVariant(t *testing.T) {
	h := newHarness(t)
	h.policyControls = false

	line := h.failure("--generate", "--requireBiometry")
	assert.Contains(t, line, "unknown flag: --requireBiometry")

	out := h.success("--generate", "--data", b64("x"))
	verifySignature(t, *out.PublicKey, *out.Signature, []byte("x"))
}

func TestExecute_Help(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		t.Run(arg, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := Execute(context.Background(), []string{arg}, Options{
				PolicyControls: true,
				Stdout:         &stdout,
				Stderr:         &stderr,
				LookupEnv:      func(string) (string, bool) { return "", false },
			})
			assert.Equal(t, 1, code)
			assert.Equal(t, "error: argument error: invalid argument: "+arg+"\n", stdout.String())
			assert.Empty(t, stderr.String())
		})
	}
}

func TestExecute_ValueTokensAreNotChecked(t *testing.T) {
	h := newHarness(t)
	line := h.failure("--generate", "--data", "-h")
	assert.Contains(t, line, "invalid base64 for --data")
}

func TestCheckTokens(t *testing.T) {
	assert.NoError(t, checkTokens(nil))
	assert.NoError(t, checkTokens([]string{"--generate", "--requireBiometry", "--data", "--"}))
	assert.NoError(t, checkTokens([]string{"--key", "-abc", "--data", "a=b"}))

	err := checkTokens([]string{"--generate", "--data", "AAAA", "--"})
	assert.ErrorIs(t, err, enclave.ErrArgument)
	assert.EqualError(t, err, "argument error: invalid argument: --")
}

func TestDiagnostic(t *testing.T) {
	err := fmt.Errorf("%w: first line\nsecond  line", enclave.ErrDecoding)
	assert.Equal(t, "error: decoding error: first line second line", diagnostic(err))

	assert.Equal(t, "error: hardware error: unclassified", diagnostic(errors.New("unclassified")))
}
