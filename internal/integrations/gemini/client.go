package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/integrations/secrets"
)

// generator is the slice of *genai.Models the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client sends chat conversations to Gemini through the Gemini API backend.
type Client struct {
	keys      secrets.Getter
	tokenName string
	dial      func(ctx context.Context, apiKey string) (generator, error)

	temperature float32
	maxTokens   int32

	mu     sync.Mutex
	models generator
}

// NewClient creates a Client whose API key is read from keys under tokenName
// on the first call to Chat.
func NewClient(keys secrets.Getter, tokenName string) (*Client, error) {
	if keys == nil {
		return nil, errors.New("gemini: secrets getter must not be nil")
	}
	tokenName = strings.TrimSpace(tokenName)
	if tokenName == "" {
		return nil, errors.New("gemini: token name must not be empty")
	}
	return &Client{
		keys:        keys,
		tokenName:   tokenName,
		dial:        dialGenAI,
		temperature: 0.7,
		maxTokens:   8192,
	}, nil
}

func dialGenAI(ctx context.Context, apiKey string) (generator, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return c.Models, nil
}

// resolveModels dials Gemini once per process. Failures are not cached, so
// the next call retries.
func (c *Client) resolveModels(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil {
		return c.models, nil
	}
	key, err := secrets.Token(ctx, c.keys, c.tokenName)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	models, err := c.dial(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.models = models
	return models, nil
}

// Chat implements the chat-completion collaborator. System messages become the
// system instruction; assistant messages are sent with the model role.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}

	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case domain.ChatRoleSystem:
			system = append(system, m.Content)
		case domain.ChatRoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", errors.New("gemini: no conversation contents")
	}

	models, err := c.resolveModels(ctx)
	if err != nil {
		return "", err
	}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: c.maxTokens,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	res, err := models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if res == nil {
		return "", errors.New("gemini: empty response")
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: response has no text")
	}
	return text, nil
}
