package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"deepdive-tutor/internal/domain"
)

//go:embed personas.yaml
var defaultDocument []byte

// ErrUnknown is returned when a mode or audience is not configured.
var ErrUnknown = errors.New("persona: unknown mode or audience")

type document struct {
	DefaultMode     string                  `yaml:"default_mode"`
	DefaultAudience string                  `yaml:"default_audience"`
	KeywordQuestion string                  `yaml:"keyword_question"`
	Formatting      string                  `yaml:"formatting"`
	Audiences       map[string]audienceSpec `yaml:"audiences"`
	Personas        map[string]personaSpec  `yaml:"personas"`
}

type audienceSpec struct {
	Name        string `yaml:"name"`
	Instruction string `yaml:"instruction"`
}

type personaSpec struct {
	Name            string `yaml:"name"`
	Prompt          string `yaml:"prompt"`
	KeywordQuestion string `yaml:"keyword_question"`
}

// Template is the resolved prompt configuration for one mode and audience.
type Template struct {
	Mode            domain.PersonaMode
	Audience        domain.AudienceLevel
	Name            string
	SystemPrompt    string
	KeywordQuestion string
}

// Option describes a selectable mode or audience.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry resolves PersonaMode x AudienceLevel to a Template.
type Registry struct {
	doc document
}

// Default returns the registry built from the embedded document.
func Default() (*Registry, error) {
	return Parse(defaultDocument)
}

// Load reads a registry from path, or the embedded default when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from a YAML document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persona: parse yaml: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, errors.New("persona: no personas defined")
	}
	if len(doc.Audiences) == 0 {
		return nil, errors.New("persona: no audiences defined")
	}
	for id, p := range doc.Personas {
		if strings.TrimSpace(p.Prompt) == "" {
			return nil, fmt.Errorf("persona: %q has an empty prompt", id)
		}
	}
	if _, ok := doc.Personas[doc.DefaultMode]; !ok {
		doc.DefaultMode = sortedKeys(doc.Personas)[0]
	}
	if _, ok := doc.Audiences[doc.DefaultAudience]; !ok {
		doc.DefaultAudience = sortedKeys(doc.Audiences)[0]
	}
	return &Registry{doc: doc}, nil
}

// Defaults returns the mode and audience used when a caller leaves them empty.
func (r *Registry) Defaults() (domain.PersonaMode, domain.AudienceLevel) {
	return domain.PersonaMode(r.doc.DefaultMode), domain.AudienceLevel(r.doc.DefaultAudience)
}

// Resolve returns the template for mode and audience. Empty values select the
// defaults.
func (r *Registry) Resolve(mode domain.PersonaMode, audience domain.AudienceLevel) (Template, error) {
	defMode, defAudience := r.Defaults()
	if mode == "" {
		mode = defMode
	}
	if audience == "" {
		audience = defAudience
	}
	p, ok := r.doc.Personas[string(mode)]
	if !ok {
		return Template{}, fmt.Errorf("%w: mode %q", ErrUnknown, mode)
	}
	a, ok := r.doc.Audiences[string(audience)]
	if !ok {
		return Template{}, fmt.Errorf("%w: audience %q", ErrUnknown, audience)
	}

	keywordQuestion := p.KeywordQuestion
	if keywordQuestion == "" {
		keywordQuestion = r.doc.KeywordQuestion
	}

	parts := []string{strings.TrimSpace(p.Prompt), strings.TrimSpace(a.Instruction)}
	if f := strings.TrimSpace(r.doc.Formatting); f != "" {
		parts = append(parts, f)
	}
	return Template{
		Mode:            mode,
		Audience:        audience,
		Name:            p.Name,
		SystemPrompt:    strings.Join(parts, "\n\n"),
		KeywordQuestion: keywordQuestion,
	}, nil
}

// Modes lists the configured personas ordered by id.
func (r *Registry) Modes() []Option {
	out := make([]Option, 0, len(r.doc.Personas))
	for _, id := range sortedKeys(r.doc.Personas) {
		out = append(out, Option{ID: id, Name: r.doc.Personas[id].Name})
	}
	return out
}

// Audiences lists the configured audience levels ordered by id.
func (r *Registry) Audiences() []Option {
	out := make([]Option, 0, len(r.doc.Audiences))
	for _, id := range sortedKeys(r.doc.Audiences) {
		out = append(out, Option{ID: id, Name: r.doc.Audiences[id].Name})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
