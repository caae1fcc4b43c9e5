package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Getter returns a secret by name.
type Getter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvStore reads secrets from environment variables. The name is used as the
// variable name.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore returns an EnvStore over the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

func (e *EnvStore) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := e.lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("secrets: environment variable %s is not set", name)
	}
	return strings.TrimSpace(v), nil
}

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// Token fetches name from g and returns the API token it holds. JSON values
// of the form {"token":"..."} are unwrapped; any other value is used as-is.
func Token(ctx context.Context, g Getter, name string) (string, error) {
	if g == nil {
		return "", errors.New("secrets: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: token name is empty")
	}
	raw, err := g.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("secrets: fetch token: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("secrets: API token is empty")
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("secrets: unmarshal token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("secrets: API token is empty")
	}
	return tp.Token, nil
}
