package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/persona"
	"deepdive-tutor/internal/render"
)

const (
	defaultMaxContext  = 40
	defaultMaxQuestion = 2000
	fallbackTitle      = "2006-01-02_150405"
)

// legacyModes maps persona names written by older transcripts to mode ids.
var legacyModes = map[string]domain.PersonaMode{
	"総合家庭教師": "tutor",
	"歴史探求家":  "historian",
	"科学者":    "scientist",
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type PersonaResolver interface {
	Defaults() (domain.PersonaMode, domain.AudienceLevel)
	Resolve(mode domain.PersonaMode, audience domain.AudienceLevel) (persona.Template, error)
}

type TranscriptStore interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, id string, s domain.Session) error
	Delete(ctx context.Context, id string) error
}

type DocumentFetcher interface {
	FetchReadableText(ctx context.Context, url string) (string, error)
}

// Config tunes a TutorService. Zero values select defaults.
type Config struct {
	Model           string
	MaxContextItems int
	MaxQuestionLen  int
	Logger          *slog.Logger
}

// TutorService runs tutoring turns against a chat model. It keeps no session
// state of its own: every operation takes a Session and returns the next one.
type TutorService struct {
	llm      LLMClient
	personas PersonaResolver
	store    TranscriptStore
	fetcher  DocumentFetcher

	model          string
	maxContext     int
	maxQuestionLen int
	logger         *slog.Logger
	now            func() time.Time
}

type AskInput struct {
	Session  domain.Session
	Question string
}

type ActivateInput struct {
	Session domain.Session
	Item    render.ActionableItem
}

// Reply is the outcome of a turn. On a failed round-trip Session still carries
// the user's question and Instructions is empty.
type Reply struct {
	Session      domain.Session
	Instructions []render.Instruction
}

// NewTutorService wires the collaborators. fetcher may be nil, in which case
// reference documents are never attached.
func NewTutorService(llm LLMClient, personas PersonaResolver, store TranscriptStore, fetcher DocumentFetcher, cfg Config) (*TutorService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if personas == nil {
		return nil, errors.New("usecase: persona resolver must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if cfg.MaxContextItems <= 0 {
		cfg.MaxContextItems = defaultMaxContext
	}
	if cfg.MaxQuestionLen <= 0 {
		cfg.MaxQuestionLen = defaultMaxQuestion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TutorService{
		llm:            llm,
		personas:       personas,
		store:          store,
		fetcher:        fetcher,
		model:          cfg.Model,
		maxContext:     cfg.MaxContextItems,
		maxQuestionLen: cfg.MaxQuestionLen,
		logger:         cfg.Logger,
		now:            time.Now,
	}, nil
}

// NewSession starts an empty session. Blank mode or audience select the
// registry defaults.
func (s *TutorService) NewSession(mode domain.PersonaMode, audience domain.AudienceLevel) (domain.Session, error) {
	sess := domain.Session{Mode: mode, Audience: audience}
	sess = s.withDefaults(sess)
	if _, err := s.template(sess); err != nil {
		return domain.Session{}, err
	}
	now := s.now().UTC()
	sess.ID = newUUID()
	sess.Messages = []domain.Message{}
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return sess, nil
}

// Ask appends the question, sends the conversation to the model and appends
// its reply.
func (s *TutorService) Ask(ctx context.Context, in AskInput) (Reply, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return Reply{Session: in.Session}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.maxQuestionLen {
		return Reply{Session: in.Session}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	sess := s.withDefaults(in.Session)
	tmpl, err := s.template(sess)
	if err != nil {
		return Reply{Session: in.Session}, err
	}
	if sess.ID == "" {
		sess.ID = newUUID()
	}

	sess = domain.Apply(sess, domain.QuestionAsked{Text: question, At: s.now().UTC()})

	answer, err := s.llm.Chat(ctx, s.model, buildPromptMessages(tmpl.SystemPrompt, sess, s.maxContext))
	if err != nil {
		s.logger.Error("chat round-trip failed", "session", sess.ID, "model", s.model, "err", err)
		return Reply{Session: sess}, communicationError("chat", err)
	}

	sess = domain.Apply(sess, domain.AnswerReceived{Text: answer, At: s.now().UTC()})
	return Reply{
		Session:      sess,
		Instructions: render.NewRenderer(tmpl.KeywordQuestion).Render(answer),
	}, nil
}

// Activate submits an actionable item as the next question. Keyword items are
// recorded as explored before the question is sent.
func (s *TutorService) Activate(ctx context.Context, in ActivateInput) (Reply, error) {
	if strings.TrimSpace(in.Item.NextQuestion) == "" {
		return Reply{Session: in.Session}, newError(ErrorInvalidInput, "empty_item", nil)
	}
	sess := in.Session
	if in.Item.Keyword != "" {
		sess = domain.Apply(sess, domain.TopicExplored{Keyword: in.Item.Keyword, At: s.now().UTC()})
	}
	return s.Ask(ctx, AskInput{Session: sess, Question: in.Item.NextQuestion})
}

// Render runs the rendering pipeline over content using the session's
// keyword-question template.
func (s *TutorService) Render(sess domain.Session, content string) ([]render.Instruction, error) {
	tmpl, err := s.template(s.withDefaults(sess))
	if err != nil {
		return nil, err
	}
	return render.NewRenderer(tmpl.KeywordQuestion).Render(content), nil
}

// AttachReference fetches rawURL and stores its text on the session. A fetch
// failure is not an error: the session comes back unchanged with ok=false.
func (s *TutorService) AttachReference(ctx context.Context, sess domain.Session, rawURL string) (domain.Session, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || s.fetcher == nil {
		return sess, false
	}
	text, err := s.fetcher.FetchReadableText(ctx, rawURL)
	if err != nil {
		s.logger.Warn("reference fetch failed", "session", sess.ID, "url", rawURL, "err", err)
		return sess, false
	}
	return domain.Apply(sess, domain.ReferenceAttached{URL: rawURL, Text: text, At: s.now().UTC()}), true
}

// SuggestTitle asks the model to name the conversation. It never fails: an
// empty session, a failed call or an unusable reply yield a timestamp title.
func (s *TutorService) SuggestTitle(ctx context.Context, sess domain.Session) string {
	fallback := s.now().Format(fallbackTitle)
	if len(sess.Messages) == 0 {
		return fallback
	}
	raw, err := s.llm.Chat(ctx, s.model, buildTitleMessages(sess))
	if err != nil {
		s.logger.Warn("title suggestion failed", "session", sess.ID, "err", err)
		return fallback
	}
	title := cleanTitle(raw)
	if _, err := domain.TranscriptID(title); err != nil {
		return fallback
	}
	return title
}

func (s *TutorService) ListTranscripts(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, s.storeError("list", "", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// LoadTranscript reads a saved session, upgrading older records: persona
// names become mode ids and missing ids or titles are filled in.
func (s *TutorService) LoadTranscript(ctx context.Context, id string) (domain.Session, error) {
	id, err := transcriptID(id)
	if err != nil {
		return domain.Session{}, err
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return domain.Session{}, s.storeError("load", id, err)
	}
	if mode, ok := legacyModes[string(sess.Mode)]; ok {
		sess.Mode = mode
	}
	if sess.ID == "" {
		sess.ID = newUUID()
	}
	if sess.Title == "" {
		sess.Title = id
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	return s.withDefaults(sess), nil
}

// SaveTranscript persists the whole session under the id derived from title.
// A blank title falls back to the session's own title, then a timestamp.
func (s *TutorService) SaveTranscript(ctx context.Context, sess domain.Session, title string) (string, domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = sess.Title
	}
	if title == "" {
		title = s.now().Format(fallbackTitle)
	}
	id, err := transcriptID(title)
	if err != nil {
		return "", sess, err
	}
	if sess.ID == "" {
		sess.ID = newUUID()
	}
	next := domain.Apply(sess, domain.Titled{Title: id, At: s.now().UTC()})
	if err := s.store.Save(ctx, id, next); err != nil {
		return "", sess, s.storeError("save", id, err)
	}
	return id, next, nil
}

func (s *TutorService) DeleteTranscript(ctx context.Context, id string) error {
	id, err := transcriptID(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeError("delete", id, err)
	}
	return nil
}

func (s *TutorService) withDefaults(sess domain.Session) domain.Session {
	mode, audience := s.personas.Defaults()
	if sess.Mode == "" {
		sess.Mode = mode
	}
	if sess.Audience == "" {
		sess.Audience = audience
	}
	return sess
}

func (s *TutorService) template(sess domain.Session) (persona.Template, error) {
	tmpl, err := s.personas.Resolve(sess.Mode, sess.Audience)
	if err != nil {
		if errors.Is(err, persona.ErrUnknown) {
			return persona.Template{}, newError(ErrorInvalidInput, "unknown_persona", err)
		}
		return persona.Template{}, newError(ErrorInternal, "persona_resolve_error", err)
	}
	return tmpl, nil
}

func (s *TutorService) storeError(op, id string, err error) *Error {
	switch {
	case errors.Is(err, domain.ErrTranscriptNotFound):
		return newError(ErrorNotFound, "transcript_not_found", err)
	case errors.Is(err, domain.ErrInvalidTranscriptID):
		return newError(ErrorInvalidInput, "invalid_transcript_id", err)
	}
	s.logger.Error("transcript store failed", "op", op, "id", id, "err", err)
	return newError(ErrorTranscriptIO, "transcript_"+op+"_error", err)
}

func transcriptID(raw string) (string, error) {
	id, err := domain.TranscriptID(raw)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_transcript_id", err)
	}
	return id, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
