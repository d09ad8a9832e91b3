package authn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"

	"golang.org/x/term"
)

type terminal struct {
	in    *os.File
	out   io.Writer
	close func() error
	// restore puts the terminal back into the mode it had when opened. It is
	// nil when the mode could not be captured.
	restore func() error
}

// TerminalAuthenticator prompts on the controlling terminal. stdout is never
// used since it carries the command result.
type TerminalAuthenticator struct {
	timeout time.Duration
	logger  logger.Logger
	open    func() (*terminal, error)
}

// NewTerminalAuthenticator creates an authenticator whose prompts expire after timeout.
func NewTerminalAuthenticator(timeout time.Duration, logger logger.Logger) *TerminalAuthenticator {
	return &TerminalAuthenticator{
		timeout: timeout,
		logger:  logger,
		open:    openTerminal,
	}
}

// Authenticate shows prompt and waits for the answer, the timeout, or ctx.
func (a *TerminalAuthenticator) Authenticate(ctx context.Context, prompt enclave.Prompt) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	tty, err := a.open()
	if err != nil {
		return "", fmt.Errorf("%w: no terminal available: %w", enclave.ErrAuthentication, err)
	}
	defer func() {
		if err := tty.close(); err != nil {
			a.logger.Warn("Failed to close terminal: ", err)
		}
	}()

	type answer struct {
		value string
		err   error
	}
	answers := make(chan answer, 1)
	go func() {
		value, err := ask(tty, prompt)
		answers <- answer{value, err}
	}()

	select {
	case <-ctx.Done():
		// the reader may still be blocked with echo disabled
		if tty.restore != nil {
			if err := tty.restore(); err != nil {
				a.logger.Warn("Failed to restore terminal state: ", err)
			}
		}
		return "", fmt.Errorf("%w: prompt abandoned: %w", enclave.ErrAuthentication, ctx.Err())
	case ans := <-answers:
		return ans.value, ans.err
	}
}

// Enrolled reports whether a terminal can be opened.
func (a *TerminalAuthenticator) Enrolled() bool {
	tty, err := a.open()
	if err != nil {
		return false
	}
	_ = tty.close()
	return true
}

func ask(tty *terminal, prompt enclave.Prompt) (string, error) {
	if prompt.Secret {
		_, _ = fmt.Fprintf(tty.out, "%s: ", prompt.Reason)
		pin, err := term.ReadPassword(int(tty.in.Fd()))
		_, _ = fmt.Fprintln(tty.out)
		if err != nil {
			return "", fmt.Errorf("%w: failed to read PIN: %w", enclave.ErrAuthentication, err)
		}
		if len(pin) == 0 {
			return "", fmt.Errorf("%w: no PIN entered", enclave.ErrAuthentication)
		}
		return string(pin), nil
	}

	_, _ = fmt.Fprintf(tty.out, "%s [y/N]: ", prompt.Reason)
	line, err := bufio.NewReader(tty.in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("%w: cancelled", enclave.ErrAuthentication)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return "", nil
	default:
		return "", fmt.Errorf("%w: request denied", enclave.ErrAuthentication)
	}
}

func openTerminal() (*terminal, error) {
	if f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		return newTerminal(f, f, f.Close), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return newTerminal(os.Stdin, os.Stderr, func() error { return nil }), nil
	}
	return nil, errors.New("stdin is not a terminal")
}

func newTerminal(in *os.File, out io.Writer, closeFn func() error) *terminal {
	tty := &terminal{in: in, out: out, close: closeFn}
	fd := int(in.Fd())
	if state, err := term.GetState(fd); err == nil {
		tty.restore = func() error { return term.Restore(fd, state) }
	}
	return tty
}
