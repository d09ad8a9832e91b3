//go:build unit
// +build unit

package app

import (
	"context"
	"crypto/ecdsa"

	"github.com/JackOfMostTrades/sep-sign/internal/domain/enclave"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of enclave.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockProvider) GenerateKey(ctx context.Context, policy enclave.AccessPolicy, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	args := m.Called(ctx, policy, auth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(enclave.KeyHandle), args.Error(1)
}

func (m *MockProvider) ImportKey(ctx context.Context, blob []byte, auth *enclave.AuthContext) (enclave.KeyHandle, error) {
	args := m.Called(ctx, blob, auth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(enclave.KeyHandle), args.Error(1)
}

func (m *MockProvider) Sign(ctx context.Context, handle enclave.KeyHandle, payload []byte) ([]byte, error) {
	args := m.Called(ctx, handle, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockKeyHandle is a mock implementation of enclave.KeyHandle
type MockKeyHandle struct {
	mock.Mock
}

func (m *MockKeyHandle) DataRepresentation() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]byte)
}

func (m *MockKeyHandle) PublicKey() *ecdsa.PublicKey {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*ecdsa.PublicKey)
}

func (m *MockKeyHandle) Policy() enclave.AccessPolicy {
	args := m.Called()
	return args.Get(0).(enclave.AccessPolicy)
}

func (m *MockKeyHandle) Provenance() enclave.Provenance {
	args := m.Called()
	return args.Get(0).(enclave.Provenance)
}
