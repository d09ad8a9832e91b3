package app

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/cryptoalg"
	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"
	"github.com/JackOfMostTrades/sep-sign/internal/pkg/logger"
)

// Request is one parsed invocation. Key and Data are nil when the flag was
// not given, which is distinct from an empty value.
type Request struct {
	Generate        bool
	RequireBiometry bool
	RequireUnlocked bool
	Key             *string
	Data            *string
}

// KeyWorkflowService runs the availability, key and signing stages of one invocation.
type KeyWorkflowService interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}

// keyWorkflowService implements KeyWorkflowService on top of a single provider
type keyWorkflowService struct {
	provider       enclave.Provider
	processor      cryptoalg.ECDSAProcessor
	auth           *enclave.AuthContext
	policyControls bool
	logger         logger.Logger
}

// NewKeyWorkflowService creates a workflow bound to provider and a fresh
// authentication session. processor encodes public keys for output. When
// policyControls is false the request's policy switches are ignored and every
// key gets enclave.DefaultAccessPolicy.
func NewKeyWorkflowService(
	provider enclave.Provider,
	processor cryptoalg.ECDSAProcessor,
	authenticator enclave.Authenticator,
	policyControls bool,
	logger logger.Logger,
) (KeyWorkflowService, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &keyWorkflowService{
		provider:       provider,
		processor:      processor,
		auth:           enclave.NewAuthContext(authenticator),
		policyControls: policyControls,
		logger:         logger,
	}, nil
}

// Run executes the request. On failure no partial result is returned.
func (s *keyWorkflowService) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &Result{IsAvailable: s.provider.IsAvailable(ctx)}
	s.logger.Info("Provider available: ", result.IsAvailable)

	var handle enclave.KeyHandle
	switch {
	case req.Generate:
		policy := enclave.DefaultAccessPolicy()
		if s.policyControls {
			policy = enclave.NewAccessPolicy(req.RequireUnlocked, req.RequireBiometry)
		}

		generated, err := s.provider.GenerateKey(ctx, policy, s.auth)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		publicKey, err := s.processor.MarshalPublicKey(generated.PublicKey())
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode public key: %w", enclave.ErrHardware, err)
		}
		handle = generated
		result.PrivateKey = generated.DataRepresentation()
		result.PublicKey = publicKey

	case req.Key != nil:
		blob, err := decodeBase64("--key", *req.Key)
		if err != nil {
			return nil, err
		}
		imported, err := s.provider.ImportKey(ctx, blob, s.auth)
		if err != nil {
			return nil, fmt.Errorf("failed to import key: %w", err)
		}
		// imported keys are used, never echoed
		handle = imported
	}

	if req.Data != nil {
		payload, err := decodeBase64("--data", *req.Data)
		if err != nil {
			return nil, err
		}
		signature, err := s.provider.Sign(ctx, handle, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to sign data: %w", err)
		}
		result.Signature = signature
		s.logger.Info("Signed ", len(payload), " bytes with ", handle.Provenance(), " key, policy ", handle.Policy())
	}

	return result, nil
}

// Validate rejects contradictory flag combinations. It never touches a provider.
func (req *Request) Validate() error {
	if req == nil {
		return fmt.Errorf("%w: empty request", enclave.ErrArgument)
	}
	if req.Generate && req.Key != nil {
		return fmt.Errorf("%w: cannot specify both --generate and --key", enclave.ErrArgument)
	}
	if req.Data != nil && !req.Generate && req.Key == nil {
		return fmt.Errorf("%w: cannot specify --data without specifying --generate or --key", enclave.ErrArgument)
	}
	return nil
}

func decodeBase64(flag, value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 for %s: %w", enclave.ErrDecoding, flag, err)
	}
	return decoded, nil
}
