package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	SecretsSSM = "ssm"
	SecretsEnv = "env"

	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"

	// SSMTokenName is the parameter below PARAM_PREFIX holding the API token.
	SSMTokenName = "llm-token"
)

// Profile carries the defaults that differ between the Lambda and the CLI.
type Profile struct {
	SecretSource      string
	TranscriptBackend string
}

var (
	LambdaProfile = Profile{SecretSource: SecretsSSM, TranscriptBackend: BackendDynamoDB}
	CLIProfile    = Profile{SecretSource: SecretsEnv, TranscriptBackend: BackendFile}
)

type Config struct {
	Provider string
	Model    string
	BaseURL  string

	SecretSource string
	ParamPrefix  string

	TranscriptBackend string
	TranscriptDir     string
	TranscriptDB      string
	TranscriptTable   string

	PersonaFile string

	MaxContextItems int
	MaxQuestionLen  int
	FetchMaxChars   int
}

// Load reads the process environment.
func Load(p Profile) (*Config, error) {
	return load(p, os.Getenv)
}

func load(p Profile, getenv func(string) string) (*Config, error) {
	getEnv := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	envInt := func(key string, def int) (int, error) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
		}
		return n, nil
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))
	defaultModel := "gemini-2.5-flash"
	if provider == ProviderOpenAI {
		defaultModel = "gpt-4o-mini"
	}

	cfg := &Config{
		Provider: provider,
		Model:    getEnv("LLM_MODEL", defaultModel),
		BaseURL:  getEnv("LLM_BASE_URL", ""),

		SecretSource: strings.ToLower(getEnv("SECRET_SOURCE", p.SecretSource)),
		ParamPrefix:  getEnv("PARAM_PREFIX", ""),

		TranscriptBackend: strings.ToLower(getEnv("TRANSCRIPT_BACKEND", p.TranscriptBackend)),
		TranscriptDir:     getEnv("TRANSCRIPT_DIR", "history"),
		TranscriptDB:      getEnv("TRANSCRIPT_DB", "history.sqlite"),
		TranscriptTable:   getEnv("TRANSCRIPT_TABLE", ""),

		PersonaFile: getEnv("PERSONA_FILE", ""),
	}

	var err error
	if cfg.MaxContextItems, err = envInt("MAX_CONTEXT_ITEMS", 40); err != nil {
		return nil, err
	}
	if cfg.MaxQuestionLen, err = envInt("MAX_QUESTION_LENGTH", 2000); err != nil {
		return nil, err
	}
	if cfg.FetchMaxChars, err = envInt("FETCH_MAX_CHARS", 20000); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("config: unknown LLM_PROVIDER %q", c.Provider))
	}
	switch c.SecretSource {
	case SecretsEnv:
	case SecretsSSM:
		if c.ParamPrefix == "" {
			errs = append(errs, errors.New("config: PARAM_PREFIX is required when SECRET_SOURCE=ssm"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown SECRET_SOURCE %q", c.SecretSource))
	}
	switch c.TranscriptBackend {
	case BackendFile, BackendSQLite:
	case BackendDynamoDB:
		if c.TranscriptTable == "" {
			errs = append(errs, errors.New("config: TRANSCRIPT_TABLE is required when TRANSCRIPT_BACKEND=dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown TRANSCRIPT_BACKEND %q", c.TranscriptBackend))
	}
	return errors.Join(errs...)
}

// TokenName is the secret name holding the provider API token for the
// configured secret source.
func (c *Config) TokenName() string {
	if c.SecretSource == SecretsSSM {
		return SSMTokenName
	}
	if c.Provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.SecretSource == SecretsSSM || c.TranscriptBackend == BackendDynamoDB
}
