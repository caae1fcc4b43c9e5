package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"deepdive-tutor/internal/config"
	"deepdive-tutor/internal/integrations/gemini"
	"deepdive-tutor/internal/integrations/openai"
	"deepdive-tutor/internal/integrations/secrets"
	"deepdive-tutor/internal/integrations/webfetch"
	"deepdive-tutor/internal/persona"
	"deepdive-tutor/internal/repository"
	"deepdive-tutor/internal/usecase"
)

// App is the wired object graph shared by the Lambda and the CLI.
type App struct {
	Config   *config.Config
	Personas *persona.Registry
	Tutor    *usecase.TutorService

	closers []func() error
}

// Build constructs every collaborator named by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}

	personas, err := loadPersonas(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}
	app.Personas = personas

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
		}
	}

	keys, err := newSecrets(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	llm, err := newLLM(cfg, keys)
	if err != nil {
		return nil, err
	}
	store, err := app.newStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	tutor, err := usecase.NewTutorService(llm, personas, store, webfetch.New(nil, cfg.FetchMaxChars), usecase.Config{
		Model:           cfg.Model,
		MaxContextItems: cfg.MaxContextItems,
		MaxQuestionLen:  cfg.MaxQuestionLen,
		Logger:          logger,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: create tutor service: %w", err)
	}
	app.Tutor = tutor

	logger.Debug("components built",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"secrets", cfg.SecretSource,
		"transcripts", cfg.TranscriptBackend,
	)
	return app, nil
}

// Close releases resources held by the transcript store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadPersonas(path string) (*persona.Registry, error) {
	if path == "" {
		reg, err := persona.Default()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load embedded personas: %w", err)
		}
		return reg, nil
	}
	reg, err := persona.Load(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load personas from %s: %w", path, err)
	}
	return reg, nil
}

func newSecrets(cfg *config.Config, awsCfg aws.Config) (secrets.Getter, error) {
	if cfg.SecretSource != config.SecretsSSM {
		return secrets.NewEnvStore(), nil
	}
	store, err := secrets.NewSSMStore(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create SSM store: %w", err)
	}
	return store, nil
}

// newLLM defers reading the API token to the first chat call, so commands
// that never talk to the model run without one.
func newLLM(cfg *config.Config, keys secrets.Getter) (usecase.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err := openai.NewClient(keys, cfg.TokenName(), openai.WithBaseURL(cfg.BaseURL), openai.WithTemperature(0.7))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create OpenAI client: %w", err)
		}
		return c, nil
	case config.ProviderGemini:
		c, err := gemini.NewClient(keys, cfg.TokenName())
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create Gemini client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown provider %q", cfg.Provider)
}

func (a *App) newStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (usecase.TranscriptStore, error) {
	switch cfg.TranscriptBackend {
	case config.BackendFile:
		s, err := repository.NewFileStore(cfg.TranscriptDir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := repository.OpenSQLite(ctx, cfg.TranscriptDB)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendDynamoDB:
		s, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.TranscriptTable)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown transcript backend %q", cfg.TranscriptBackend)
}
