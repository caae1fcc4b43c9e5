package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by SSMStore.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads decrypted SecureString parameters from AWS SSM Parameter
// Store. Names are joined to the configured prefix.
type SSMStore struct {
	api    ssmAPI
	prefix string
}

// NewSSMStore creates an SSMStore reading parameters below prefix.
func NewSSMStore(api ssmAPI, prefix string) (*SSMStore, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("secrets: parameter prefix must not be empty")
	}
	return &SSMStore{api: api, prefix: prefix}, nil
}

// GetSecret returns the raw value of <prefix>/<name>.
func (s *SSMStore) GetSecret(ctx context.Context, name string) (string, error) {
	if s.api == nil {
		return "", errors.New("secrets: ssm store not initialized")
	}
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	full := s.prefix + "/" + name

	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &full,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", full)
	}
	return *out.Parameter.Value, nil
}
