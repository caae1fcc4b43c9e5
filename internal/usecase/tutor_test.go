package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/integrations/openai"
	"deepdive-tutor/internal/persona"
	"deepdive-tutor/internal/render"
	"deepdive-tutor/internal/repository"
)

type chatResponse struct {
	answer string
	err    error
}

type mockLLM struct {
	responses []chatResponse
	calls     [][]domain.ChatMessage
	models    []string
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.calls = append(m.calls, msgs)
	m.models = append(m.models, model)
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx].answer, m.responses[idx].err
}

func answer(s string) *mockLLM {
	return &mockLLM{responses: []chatResponse{{answer: s}}}
}

type mockStore struct {
	items   map[string]domain.Session
	err     error
	deleted []string
}

func newMockStore() *mockStore {
	return &mockStore{items: map[string]domain.Session{}}
}

func (m *mockStore) List(_ context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var ids []string
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (m *mockStore) Load(_ context.Context, id string) (domain.Session, error) {
	if m.err != nil {
		return domain.Session{}, m.err
	}
	s, ok := m.items[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("mock: %w", domain.ErrTranscriptNotFound)
	}
	return s, nil
}

func (m *mockStore) Save(_ context.Context, id string, s domain.Session) error {
	if m.err != nil {
		return m.err
	}
	m.items[id] = s
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("mock: %w", domain.ErrTranscriptNotFound)
	}
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockFetcher struct {
	text string
	err  error
	url  string
}

func (m *mockFetcher) FetchReadableText(_ context.Context, url string) (string, error) {
	m.url = url
	return m.text, m.err
}

var fixedNow = time.Date(2026, 5, 4, 15, 30, 45, 0, time.UTC)

func newTestService(t *testing.T, llm LLMClient, store TranscriptStore, fetcher DocumentFetcher) *TutorService {
	t.Helper()
	reg, err := persona.Default()
	require.NoError(t, err)
	svc, err := NewTutorService(llm, reg, store, fetcher, Config{
		Model:           "gemini-test",
		MaxContextItems: 4,
		MaxQuestionLen:  50,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewTutorService_ValidatesDependencies(t *testing.T) {
	reg, err := persona.Default()
	require.NoError(t, err)
	cfg := Config{Model: "m"}

	_, err = NewTutorService(nil, reg, newMockStore(), nil, cfg)
	require.Error(t, err)
	_, err = NewTutorService(answer("x"), nil, newMockStore(), nil, cfg)
	require.Error(t, err)
	_, err = NewTutorService(answer("x"), reg, nil, nil, cfg)
	require.Error(t, err)
	_, err = NewTutorService(answer("x"), reg, newMockStore(), nil, Config{Model: " "})
	require.Error(t, err)

	svc, err := NewTutorService(answer("x"), reg, newMockStore(), nil, cfg)
	require.NoError(t, err)
	require.Equal(t, defaultMaxContext, svc.maxContext)
	require.Equal(t, defaultMaxQuestion, svc.maxQuestionLen)
}

func TestNewSession(t *testing.T) {
	svc := newTestService(t, answer("x"), newMockStore(), nil)
	newUUID = func() string { return "session-1" }
	t.Cleanup(func() { newUUID = defaultUUID })

	s, err := svc.NewSession("", "")
	require.NoError(t, err)
	require.Equal(t, "session-1", s.ID)
	require.Equal(t, domain.PersonaMode("tutor"), s.Mode)
	require.Equal(t, domain.AudienceLevel("middle_school"), s.Audience)
	require.NotNil(t, s.Messages)
	require.Equal(t, fixedNow, s.CreatedAt)

	s, err = svc.NewSession("historian", "adult")
	require.NoError(t, err)
	require.Equal(t, domain.PersonaMode("historian"), s.Mode)

	_, err = svc.NewSession("pirate", "")
	expectError(t, err, ErrorInvalidInput, "unknown_persona")
}

func TestAsk_HappyPath(t *testing.T) {
	llm := answer("### Basic Answer\nPlants convert light.\n### Dig Deeper\n1. Want to know why?\n2. Curious about X?\n")
	svc := newTestService(t, llm, newMockStore(), nil)
	sess, err := svc.NewSession("tutor", "elementary")
	require.NoError(t, err)

	out, err := svc.Ask(context.Background(), AskInput{Session: sess, Question: "  Why are leaves green?  "})
	require.NoError(t, err)

	require.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "Why are leaves green?"},
		{Role: domain.RoleAssistant, Content: llm.responses[0].answer},
	}, out.Session.Messages)
	require.Empty(t, sess.Messages, "input session must not be modified")

	require.Equal(t, []string{"gemini-test"}, llm.models)
	sent := llm.calls[0]
	require.Equal(t, domain.ChatRoleSystem, sent[0].Role)
	require.Contains(t, sent[0].Content, "### Dig Deeper")
	require.Contains(t, sent[0].Content, "elementary school")
	require.Equal(t, domain.ChatMessage{Role: domain.ChatRoleUser, Content: "Why are leaves green?"}, sent[len(sent)-1])

	require.Len(t, out.Instructions, 4)
	require.Equal(t, render.KindActions, out.Instructions[3].Kind)
	require.Equal(t, "Curious about X?", out.Instructions[3].Actions[1].NextQuestion)
}

func TestAsk_ValidationErrors(t *testing.T) {
	llm := answer("x")
	svc := newTestService(t, llm, newMockStore(), nil)

	_, err := svc.Ask(context.Background(), AskInput{Question: "   "})
	expectError(t, err, ErrorInvalidInput, "empty_question")

	_, err = svc.Ask(context.Background(), AskInput{Question: strings.Repeat("あ", 51)})
	expectError(t, err, ErrorInvalidInput, "question_too_long")

	out, err := svc.Ask(context.Background(), AskInput{Question: strings.Repeat("あ", 50)})
	require.NoError(t, err)
	require.NotEmpty(t, out.Session.ID, "a session without id gets one")

	_, err = svc.Ask(context.Background(), AskInput{Session: domain.Session{Mode: "pirate"}, Question: "q"})
	expectError(t, err, ErrorInvalidInput, "unknown_persona")

	require.Len(t, llm.calls, 1)
}

func TestAsk_CommunicationErrorKeepsQuestion(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{err: errors.New("connection reset")}}}
	svc := newTestService(t, llm, newMockStore(), nil)

	out, err := svc.Ask(context.Background(), AskInput{Question: "What is a volcano?"})
	expectError(t, err, ErrorCommunication, "chat_error")
	require.Equal(t, []domain.Message{{Role: domain.RoleUser, Content: "What is a volcano?"}}, out.Session.Messages)
	require.Empty(t, out.Instructions)
}

func TestAsk_RateLimited(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{err: fmt.Errorf("wrapped: %w", &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests})}}}
	svc := newTestService(t, llm, newMockStore(), nil)

	_, err := svc.Ask(context.Background(), AskInput{Question: "q"})
	expectError(t, err, ErrorRateLimited, "chat_rate_limited")
}

func TestAsk_PromptContext(t *testing.T) {
	llm := answer("ok")
	svc := newTestService(t, llm, newMockStore(), nil)

	sess := domain.Session{
		Mode:         "scientist",
		KnownTopics:  []string{"Chlorophyll", "Stomata"},
		ReferenceURL: "https://example.com/leaf",
		Reference:    "Leaves contain chloroplasts.",
	}
	for i := 0; i < 5; i++ {
		sess = domain.Apply(sess, domain.QuestionAsked{Text: fmt.Sprintf("q%d", i)})
		sess = domain.Apply(sess, domain.AnswerReceived{Text: fmt.Sprintf("a%d", i)})
	}

	_, err := svc.Ask(context.Background(), AskInput{Session: sess, Question: "q5"})
	require.NoError(t, err)

	sent := llm.calls[0]
	require.Len(t, sent, 3+4)
	require.Contains(t, sent[1].Content, "Chlorophyll, Stomata")
	require.Contains(t, sent[2].Content, "https://example.com/leaf")
	require.Contains(t, sent[2].Content, "Leaves contain chloroplasts.")

	var tail []string
	for _, m := range sent[3:] {
		tail = append(tail, m.Role+":"+m.Content)
	}
	require.Equal(t, []string{"user:q4", "assistant:a4", "user:q5"}, tail[1:])
}

func TestActivate_KeywordRecordsTopic(t *testing.T) {
	llm := answer("### Related Keywords\n- Photosynthesis\n")
	svc := newTestService(t, llm, newMockStore(), nil)

	item := render.ActionableItem{Label: "Chlorophyll", NextQuestion: "Chlorophyll — tell me more about this.", Keyword: "Chlorophyll"}
	out, err := svc.Activate(context.Background(), ActivateInput{Item: item})
	require.NoError(t, err)

	require.Equal(t, []string{"Chlorophyll"}, out.Session.KnownTopics)
	require.Len(t, out.Session.Messages, 2)
	require.Equal(t, item.NextQuestion, out.Session.Messages[0].Content)
	require.Len(t, llm.calls, 1)
	require.Contains(t, llm.calls[0][1].Content, "Chlorophyll")

	// Activating the same keyword again does not duplicate it but still asks.
	out, err = svc.Activate(context.Background(), ActivateInput{Session: out.Session, Item: item})
	require.NoError(t, err)
	require.Equal(t, []string{"Chlorophyll"}, out.Session.KnownTopics)
	require.Len(t, out.Session.Messages, 4)
	require.Len(t, llm.calls, 2)
}

func TestActivate_FollowUpDoesNotRecordTopic(t *testing.T) {
	svc := newTestService(t, answer("ok"), newMockStore(), nil)

	out, err := svc.Activate(context.Background(), ActivateInput{Item: render.ActionableItem{Label: "Why?", NextQuestion: "Why?"}})
	require.NoError(t, err)
	require.Empty(t, out.Session.KnownTopics)

	_, err = svc.Activate(context.Background(), ActivateInput{Item: render.ActionableItem{Label: "x"}})
	expectError(t, err, ErrorInvalidInput, "empty_item")
}

func TestRender_UsesPersonaKeywordQuestion(t *testing.T) {
	svc := newTestService(t, answer("x"), newMockStore(), nil)

	out, err := svc.Render(domain.Session{}, "### Related Keywords\n- Photosynthesis")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Photosynthesis — tell me more about this.", out[1].Actions[0].NextQuestion)

	_, err = svc.Render(domain.Session{Audience: "toddler"}, "x")
	expectError(t, err, ErrorInvalidInput, "unknown_persona")
}

func TestAttachReference(t *testing.T) {
	fetcher := &mockFetcher{text: "Volcanoes are openings in the crust."}
	svc := newTestService(t, answer("x"), newMockStore(), fetcher)

	sess, ok := svc.AttachReference(context.Background(), domain.Session{ID: "s"}, " https://example.com/v ")
	require.True(t, ok)
	require.Equal(t, "https://example.com/v", fetcher.url)
	require.Equal(t, "Volcanoes are openings in the crust.", sess.Reference)
	require.Equal(t, "https://example.com/v", sess.ReferenceURL)

	fetcher.err = errors.New("status 404")
	again, ok := svc.AttachReference(context.Background(), sess, "https://example.com/missing")
	require.False(t, ok)
	require.Equal(t, sess, again)

	noFetcher := newTestService(t, answer("x"), newMockStore(), nil)
	_, ok = noFetcher.AttachReference(context.Background(), domain.Session{}, "https://example.com")
	require.False(t, ok)
}

func TestSuggestTitle(t *testing.T) {
	sess := domain.Apply(domain.Session{}, domain.QuestionAsked{Text: "Why do volcanoes erupt?"})

	svc := newTestService(t, answer("**\"Volcano: eruptions?\"**\nextra line"), newMockStore(), nil)
	require.Equal(t, "Volcano eruptions", svc.SuggestTitle(context.Background(), sess))

	failing := newTestService(t, &mockLLM{responses: []chatResponse{{err: errors.New("down")}}}, newMockStore(), nil)
	require.Equal(t, "2026-05-04_153045", failing.SuggestTitle(context.Background(), sess))

	junk := newTestService(t, answer(`"/?*"`), newMockStore(), nil)
	require.Equal(t, "2026-05-04_153045", junk.SuggestTitle(context.Background(), sess))

	llm := answer("unused")
	empty := newTestService(t, llm, newMockStore(), nil)
	require.Equal(t, "2026-05-04_153045", empty.SuggestTitle(context.Background(), domain.Session{}))
	require.Empty(t, llm.calls)
}

func TestTranscripts_SaveLoadListDelete(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, answer("x"), store, nil)
	ctx := context.Background()

	sess := domain.Apply(domain.Session{ID: "s1", Mode: "historian"}, domain.QuestionAsked{Text: "Edo?"})
	id, saved, err := svc.SaveTranscript(ctx, sess, "Edo: period?")
	require.NoError(t, err)
	require.Equal(t, "Edo period", id)
	require.Equal(t, "Edo period", saved.Title)
	require.Equal(t, saved, store.items["Edo period"])

	id, _, err = svc.SaveTranscript(ctx, domain.Session{}, " ")
	require.NoError(t, err)
	require.Equal(t, "2026-05-04_153045", id)

	ids, err := svc.ListTranscripts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Edo period", "2026-05-04_153045"}, ids)

	loaded, err := svc.LoadTranscript(ctx, "Edo period")
	require.NoError(t, err)
	require.Equal(t, saved.Messages, loaded.Messages)
	require.Equal(t, domain.AudienceLevel("middle_school"), loaded.Audience)

	_, err = svc.LoadTranscript(ctx, "nope")
	expectError(t, err, ErrorNotFound, "transcript_not_found")

	_, err = svc.LoadTranscript(ctx, "///")
	expectError(t, err, ErrorInvalidInput, "invalid_transcript_id")

	require.NoError(t, svc.DeleteTranscript(ctx, "Edo period"))
	require.Equal(t, []string{"Edo period"}, store.deleted)
	expectError(t, svc.DeleteTranscript(ctx, "Edo period"), ErrorNotFound, "transcript_not_found")
}

func TestTranscripts_LegacyRecord(t *testing.T) {
	store := newMockStore()
	store.items["old"] = domain.Session{Mode: "歴史探求家", Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}}}
	svc := newTestService(t, answer("x"), store, nil)

	s, err := svc.LoadTranscript(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, domain.PersonaMode("historian"), s.Mode)
	require.Equal(t, "old", s.Title)
	require.NotEmpty(t, s.ID)
}

func TestTranscripts_StoreFailure(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("disk full")
	svc := newTestService(t, answer("x"), store, nil)
	ctx := context.Background()

	_, err := svc.ListTranscripts(ctx)
	expectError(t, err, ErrorTranscriptIO, "transcript_list_error")

	sess := domain.Session{ID: "s", Title: "before"}
	_, got, err := svc.SaveTranscript(ctx, sess, "after")
	expectError(t, err, ErrorTranscriptIO, "transcript_save_error")
	require.Equal(t, sess, got, "in-memory session is untouched on failure")

	_, err = svc.LoadTranscript(ctx, "x")
	expectError(t, err, ErrorTranscriptIO, "transcript_load_error")

	expectError(t, svc.DeleteTranscript(ctx, "x"), ErrorTranscriptIO, "transcript_delete_error")
}

func TestListTranscripts_EmptyIsNotNil(t *testing.T) {
	svc := newTestService(t, answer("x"), newMockStore(), nil)
	ids, err := svc.ListTranscripts(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ids)
	require.Empty(t, ids)
}

var defaultUUID = newUUID

func TestSaveTranscript_SuffixedTitlesOnFileStore(t *testing.T) {
	store, err := repository.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := newTestService(t, answer("x"), store, nil)
	ctx := context.Background()
	sess := domain.Apply(domain.Session{ID: "s1"}, domain.QuestionAsked{Text: "Why?"})

	for title, want := range map[string]string{
		"Week 3 .json":    "Week 3",
		"notes.json.json": "notes",
	} {
		id, _, err := svc.SaveTranscript(ctx, sess, title)
		require.NoError(t, err, title)
		require.Equal(t, want, id)

		loaded, err := svc.LoadTranscript(ctx, title)
		require.NoError(t, err, title)
		require.Equal(t, want, loaded.Title)
	}
}
