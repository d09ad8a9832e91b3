package testutil

import (
	"context"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
)

// StubAuthenticator answers prompts without user interaction and records them.
type StubAuthenticator struct {
	PIN         string
	Err         error
	NotEnrolled bool
	Prompts     []enclave.Prompt
}

// Authenticate records prompt and returns PIN for secret prompts, or Err when set.
func (a *StubAuthenticator) Authenticate(_ context.Context, prompt enclave.Prompt) (string, error) {
	a.Prompts = append(a.Prompts, prompt)
	if a.Err != nil {
		return "", a.Err
	}
	if prompt.Secret {
		return a.PIN, nil
	}
	return "", nil
}

// Enrolled reports whether prompts can be answered at all.
func (a *StubAuthenticator) Enrolled() bool {
	return !a.NotEnrolled
}
