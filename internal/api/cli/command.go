package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JackOfMostTrades/sep-sign/internal/app"
	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/infrastructure/authn"
	"github.com/JackOfMostTrades/sep-sign/internal/infrastructure/cryptography"
	"github.com/JackOfMostTrades/sep-sign/internal/infrastructure/keyprovider"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"

	"github.com/spf13/cobra"
)

// Flag names
const (
	flagGenerate        = "generate"
	flagRequireBiometry = "requireBiometry"
	flagRequireUnlocked = "requireUnlocked"
	flagKey             = "key"
	flagData            = "data"
)

// Options configures one invocation.
type Options struct {
	// Use is the command name shown in usage.
	Use string
	// PolicyControls enables --requireBiometry and --requireUnlocked.
	PolicyControls bool

	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv resolves configuration. Defaults to os.LookupEnv.
	LookupEnv config.LookupFunc
	// Authenticator overrides the one built from configuration.
	Authenticator enclave.Authenticator
}

// Execute runs args and returns the process exit status.
func Execute(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if err := checkTokens(args); err != nil {
		fmt.Fprintln(opts.Stdout, diagnostic(err))
		return 1
	}

	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(opts.Stdout, diagnostic(err))
		return 1
	}
	return 0
}

// checkTokens rejects tokens pflag and cobra would otherwise accept: the
// end-of-flags marker, short flags (including -h), --help and --flag=value
// forms. The token after --key or --data is a value and is not checked.
func checkTokens(args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--", arg == "--help",
			strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--"),
			strings.HasPrefix(arg, "--") && strings.Contains(arg, "="):
			return fmt.Errorf("%w: invalid argument: %s", enclave.ErrArgument, arg)
		case arg == "--"+flagKey, arg == "--"+flagData:
			i++
		}
	}
	return nil
}

func newRootCommand(opts Options) *cobra.Command {
	handler := &commandHandler{opts: opts}

	use := opts.Use
	if use == "" {
		use = "sep-sign"
	}

	cmd := &cobra.Command{
		Use:           use,
		Short:         "Generate and use device-bound P-256 signing keys",
		Args:          noPositionalArgs,
		RunE:          handler.run,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", enclave.ErrArgument, err)
	})
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.Flags().Bool(flagGenerate, false, "Generate a new hardware key")
	if opts.PolicyControls {
		cmd.Flags().Bool(flagRequireBiometry, false, "Require user presence each time the new key is used")
		cmd.Flags().Bool(flagRequireUnlocked, false, "Only allow the new key to be used while the device is unlocked")
	}
	cmd.Flags().String(flagKey, "", "Base64 export blob of an existing key")
	cmd.Flags().String(flagData, "", "Base64 payload to sign")

	return cmd
}

func noPositionalArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: invalid argument: %s", enclave.ErrArgument, args[0])
	}
	return nil
}

type commandHandler struct {
	opts Options
}

func (h *commandHandler) run(cmd *cobra.Command, _ []string) error {
	req, err := parseRequest(cmd, h.opts.PolicyControls)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	settings, err := config.Load(h.opts.LookupEnv)
	if err != nil {
		return fmt.Errorf("%w: invalid configuration: %w", enclave.ErrHardware, err)
	}

	log, err := setupLogger(&settings.Logger)
	if err != nil {
		return fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	log.Info("Loaded settings: ", settings)

	authenticator := h.opts.Authenticator
	if authenticator == nil {
		authenticator, err = authn.New(&settings.Auth, log)
		if err != nil {
			return fmt.Errorf("%w: invalid authentication settings: %w", enclave.ErrHardware, err)
		}
	}

	provider, err := keyprovider.New(&settings.Provider, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn("Failed to close key provider: ", err)
		}
	}()

	processor, err := cryptography.NewECDSAProcessor(log)
	if err != nil {
		return fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	service, err := app.NewKeyWorkflowService(provider, processor, authenticator, h.opts.PolicyControls, log)
	if err != nil {
		return fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}

	result, err := service.Run(cmd.Context(), req)
	if err != nil {
		log.Error(err)
		return err
	}
	return result.Encode(cmd.OutOrStdout())
}

// parseRequest reads the flag set. --key and --data are recorded by
// presence, so an empty value still counts as given.
func parseRequest(cmd *cobra.Command, policyControls bool) (*app.Request, error) {
	flags := cmd.Flags()
	req := &app.Request{}

	var err error
	if req.Generate, err = flags.GetBool(flagGenerate); err != nil {
		return nil, fmt.Errorf("%w: invalid %s flag: %w", enclave.ErrArgument, flagGenerate, err)
	}
	if policyControls {
		if req.RequireBiometry, err = flags.GetBool(flagRequireBiometry); err != nil {
			return nil, fmt.Errorf("%w: invalid %s flag: %w", enclave.ErrArgument, flagRequireBiometry, err)
		}
		if req.RequireUnlocked, err = flags.GetBool(flagRequireUnlocked); err != nil {
			return nil, fmt.Errorf("%w: invalid %s flag: %w", enclave.ErrArgument, flagRequireUnlocked, err)
		}
	}

	for name, target := range map[string]**string{flagKey: &req.Key, flagData: &req.Data} {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s flag: %w", enclave.ErrArgument, name, err)
		}
		*target = &value
	}
	return req, nil
}

func setupLogger(settings *config.LoggerSettings) (logger.Logger, error) {
	if err := logger.InitLogger(settings); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	loggerInstance, err := logger.GetLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to get logger instance: %w", err)
	}
	return loggerInstance, nil
}

// diagnostic renders err as a single line that is never valid JSON.
// Errors without a failure class are reported as hardware errors.
func diagnostic(err error) string {
	if enclave.Classify(err) == nil {
		err = fmt.Errorf("%w: %w", enclave.ErrHardware, err)
	}
	return "error: " + strings.Join(strings.Fields(err.Error()), " ")
}
