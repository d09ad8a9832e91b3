package enclave

import (
	"context"
	"errors"
	"fmt"
)

// Prompt describes one user authentication request.
type Prompt struct {
	// Reason is shown to the user.
	Reason string
	// Secret asks for a PIN instead of a presence confirmation.
	Secret bool
}

// Authenticator asks the user to authenticate. For secret prompts it
// returns the entered PIN; for presence prompts it returns an empty string
// on approval. Denial, cancellation or timeout is reported as an error.
type Authenticator interface {
	Authenticate(ctx context.Context, prompt Prompt) (string, error)
}

// EnrollmentReporter is implemented by authenticators that can tell whether
// any user authentication method is available at all.
type EnrollmentReporter interface {
	Enrolled() bool
}

// AuthContext is a single authentication session. A successful presence
// evaluation and an entered PIN are remembered, so a key generated and then
// used within one invocation prompts at most once. It is not safe for
// concurrent use.
type AuthContext struct {
	authenticator Authenticator
	evaluated     bool
	secret        string
	hasSecret     bool
}

// NewAuthContext creates a fresh session backed by authenticator.
func NewAuthContext(authenticator Authenticator) *AuthContext {
	return &AuthContext{authenticator: authenticator}
}

// CanEvaluate reports whether user authentication can be performed at all.
func (c *AuthContext) CanEvaluate() bool {
	if c == nil || c.authenticator == nil {
		return false
	}
	if r, ok := c.authenticator.(EnrollmentReporter); ok {
		return r.Enrolled()
	}
	return true
}

// Evaluate confirms user presence, reusing an earlier success in this session.
func (c *AuthContext) Evaluate(ctx context.Context, reason string) error {
	if c == nil {
		return fmt.Errorf("%w: no authentication context", ErrAuthentication)
	}
	if c.evaluated {
		return nil
	}
	if _, err := c.authenticate(ctx, Prompt{Reason: reason}); err != nil {
		return err
	}
	c.evaluated = true
	return nil
}

// Secret returns the user's PIN, prompting only on first use in this session.
func (c *AuthContext) Secret(ctx context.Context, reason string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: no authentication context", ErrAuthentication)
	}
	if c.hasSecret {
		return c.secret, nil
	}
	pin, err := c.authenticate(ctx, Prompt{Reason: reason, Secret: true})
	if err != nil {
		return "", err
	}
	c.secret, c.hasSecret = pin, true
	return pin, nil
}

// Invalidate forgets cached results, e.g. after the device rejected a PIN.
func (c *AuthContext) Invalidate() {
	if c == nil {
		return
	}
	c.evaluated = false
	c.secret, c.hasSecret = "", false
}

func (c *AuthContext) authenticate(ctx context.Context, prompt Prompt) (string, error) {
	if c.authenticator == nil {
		return "", fmt.Errorf("%w: no authenticator available", ErrAuthentication)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	value, err := c.authenticator.Authenticate(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return value, nil
}
