package authn

import (
	"context"
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
)

// PINAuthenticator answers PIN prompts with a configured PIN and hands
// presence prompts to next.
type PINAuthenticator struct {
	pin  string
	next enclave.Authenticator
}

// NewPINAuthenticator wraps next. next may be nil.
func NewPINAuthenticator(pin string, next enclave.Authenticator) *PINAuthenticator {
	return &PINAuthenticator{pin: pin, next: next}
}

func (a *PINAuthenticator) Authenticate(ctx context.Context, prompt enclave.Prompt) (string, error) {
	if prompt.Secret {
		return a.pin, nil
	}
	if a.next == nil {
		return "", fmt.Errorf("%w: presence confirmation unavailable", enclave.ErrAuthentication)
	}
	return a.next.Authenticate(ctx, prompt)
}

// Enrolled reports whether presence prompts can be answered.
func (a *PINAuthenticator) Enrolled() bool {
	if a.next == nil {
		return false
	}
	if r, ok := a.next.(enclave.EnrollmentReporter); ok {
		return r.Enrolled()
	}
	return true
}

// DenyAuthenticator refuses every prompt.
type DenyAuthenticator struct{}

func (DenyAuthenticator) Authenticate(_ context.Context, _ enclave.Prompt) (string, error) {
	return "", fmt.Errorf("%w: interactive authentication is disabled", enclave.ErrAuthentication)
}

func (DenyAuthenticator) Enrolled() bool { return false }
