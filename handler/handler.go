package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/persona"
	"deepdive-tutor/internal/render"
	"deepdive-tutor/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// TutorUseCase is the slice of usecase.TutorService the API exposes.
type TutorUseCase interface {
	NewSession(mode domain.PersonaMode, audience domain.AudienceLevel) (domain.Session, error)
	Ask(ctx context.Context, in usecase.AskInput) (usecase.Reply, error)
	Activate(ctx context.Context, in usecase.ActivateInput) (usecase.Reply, error)
	Render(sess domain.Session, content string) ([]render.Instruction, error)
	AttachReference(ctx context.Context, sess domain.Session, rawURL string) (domain.Session, bool)
	SuggestTitle(ctx context.Context, sess domain.Session) string
	ListTranscripts(ctx context.Context) ([]string, error)
	LoadTranscript(ctx context.Context, id string) (domain.Session, error)
	SaveTranscript(ctx context.Context, sess domain.Session, title string) (string, domain.Session, error)
	DeleteTranscript(ctx context.Context, id string) error
}

// PersonaLister lists the selectable modes and audiences.
type PersonaLister interface {
	Modes() []persona.Option
	Audiences() []persona.Option
}

type Handler struct {
	uc       TutorUseCase
	personas PersonaLister
	logger   *slog.Logger
}

type newSessionRequest struct {
	Mode     domain.PersonaMode   `json:"mode"`
	Audience domain.AudienceLevel `json:"audience"`
}

type askRequest struct {
	Session  domain.Session `json:"session"`
	Question string         `json:"question"`
}

type activateRequest struct {
	Session domain.Session        `json:"session"`
	Item    render.ActionableItem `json:"item"`
}

type renderRequest struct {
	Session *domain.Session `json:"session,omitempty"`
	Content string          `json:"content"`
}

type referenceRequest struct {
	Session domain.Session `json:"session"`
	URL     string         `json:"url"`
}

type sessionBody struct {
	Session domain.Session `json:"session"`
}

// instruction adds the HTML rendering of markdown bodies.
type instruction struct {
	render.Instruction
	HTML string `json:"html,omitempty"`
}

type askResponse struct {
	Session domain.Session `json:"session"`
	Reply   []instruction  `json:"reply"`
}

type renderResponse struct {
	Reply []instruction `json:"reply"`
}

type referenceResponse struct {
	Session  domain.Session `json:"session"`
	Attached bool           `json:"attached"`
}

type titleResponse struct {
	Title string `json:"title"`
}

type transcriptsResponse struct {
	Transcripts []string `json:"transcripts"`
}

type renderedMessage struct {
	domain.Message
	Reply []instruction `json:"reply,omitempty"`
}

type transcriptResponse struct {
	Session  domain.Session    `json:"session"`
	Messages []renderedMessage `json:"rendered"`
}

type savedResponse struct {
	ID      string         `json:"id"`
	Session domain.Session `json:"session"`
}

type personasResponse struct {
	Modes     []persona.Option `json:"modes"`
	Audiences []persona.Option `json:"audiences"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Reason  string          `json:"reason,omitempty"`
	Session *domain.Session `json:"session,omitempty"`
}

func NewHandler(uc TutorUseCase, personas PersonaLister, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if personas == nil {
		return nil, errors.New("handler: persona lister must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, personas: personas, logger: logger}, nil
}

// Handle routes an API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	body, err := requestBody(req)
	if err != nil {
		return h.fail(logger, correlationID, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body_encoding", Err: err}), nil
	}

	path := "/" + strings.Trim(req.Path, "/")
	resp := h.route(ctx, logger, correlationID, req.HTTPMethod, path, body)
	logger.Info("request handled", "method", req.HTTPMethod, "path", path, "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, cid, method, path string, body []byte) events.APIGatewayProxyResponse {
	switch {
	case method == http.MethodPost && path == "/sessions":
		var in newSessionRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				return h.invalidBody(logger, cid, err)
			}
		}
		sess, err := h.uc.NewSession(in.Mode, in.Audience)
		if err != nil {
			return h.fail(logger, cid, nil, err)
		}
		return jsonResponse(http.StatusCreated, cid, sessionBody{Session: sess})

	case method == http.MethodPost && path == "/ask":
		var in askRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.invalidBody(logger, cid, err)
		}
		out, err := h.uc.Ask(ctx, usecase.AskInput{Session: in.Session, Question: in.Question})
		if err != nil {
			return h.fail(logger, cid, &out.Session, err)
		}
		return jsonResponse(http.StatusOK, cid, askResponse{Session: out.Session, Reply: h.withHTML(logger, out.Instructions)})

	case method == http.MethodPost && path == "/activate":
		var in activateRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.invalidBody(logger, cid, err)
		}
		out, err := h.uc.Activate(ctx, usecase.ActivateInput{Session: in.Session, Item: in.Item})
		if err != nil {
			return h.fail(logger, cid, &out.Session, err)
		}
		return jsonResponse(http.StatusOK, cid, askResponse{Session: out.Session, Reply: h.withHTML(logger, out.Instructions)})

	case method == http.MethodPost && path == "/render":
		var in renderRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.invalidBody(logger, cid, err)
		}
		var sess domain.Session
		if in.Session != nil {
			sess = *in.Session
		}
		instructions, err := h.uc.Render(sess, in.Content)
		if err != nil {
			return h.fail(logger, cid, nil, err)
		}
		return jsonResponse(http.StatusOK, cid, renderResponse{Reply: h.withHTML(logger, instructions)})

	case method == http.MethodPost && path == "/reference":
		var in referenceRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.invalidBody(logger, cid, err)
		}
		sess, ok := h.uc.AttachReference(ctx, in.Session, in.URL)
		return jsonResponse(http.StatusOK, cid, referenceResponse{Session: sess, Attached: ok})

	case method == http.MethodPost && path == "/transcripts/title":
		var in sessionBody
		if err := json.Unmarshal(body, &in); err != nil {
			return h.invalidBody(logger, cid, err)
		}
		return jsonResponse(http.StatusOK, cid, titleResponse{Title: h.uc.SuggestTitle(ctx, in.Session)})

	case method == http.MethodGet && path == "/transcripts":
		ids, err := h.uc.ListTranscripts(ctx)
		if err != nil {
			return h.fail(logger, cid, nil, err)
		}
		return jsonResponse(http.StatusOK, cid, transcriptsResponse{Transcripts: ids})

	case method == http.MethodGet && path == "/personas":
		return jsonResponse(http.StatusOK, cid, personasResponse{Modes: h.personas.Modes(), Audiences: h.personas.Audiences()})
	}

	if id, ok := transcriptPath(path); ok {
		switch method {
		case http.MethodGet:
			return h.getTranscript(ctx, logger, cid, id)
		case http.MethodPut:
			var in sessionBody
			if err := json.Unmarshal(body, &in); err != nil {
				return h.invalidBody(logger, cid, err)
			}
			savedID, sess, err := h.uc.SaveTranscript(ctx, in.Session, id)
			if err != nil {
				return h.fail(logger, cid, nil, err)
			}
			return jsonResponse(http.StatusOK, cid, savedResponse{ID: savedID, Session: sess})
		case http.MethodDelete:
			if err := h.uc.DeleteTranscript(ctx, id); err != nil {
				return h.fail(logger, cid, nil, err)
			}
			return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: map[string]string{correlationHeader: cid}}
		}
	}

	return h.fail(logger, cid, nil, &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"})
}

func (h *Handler) getTranscript(ctx context.Context, logger *slog.Logger, cid, id string) events.APIGatewayProxyResponse {
	sess, err := h.uc.LoadTranscript(ctx, id)
	if err != nil {
		return h.fail(logger, cid, nil, err)
	}
	msgs := make([]renderedMessage, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		rm := renderedMessage{Message: m}
		if m.Role == domain.RoleAssistant {
			instructions, err := h.uc.Render(sess, m.Content)
			if err != nil {
				return h.fail(logger, cid, nil, err)
			}
			rm.Reply = h.withHTML(logger, instructions)
		}
		msgs = append(msgs, rm)
	}
	return jsonResponse(http.StatusOK, cid, transcriptResponse{Session: sess, Messages: msgs})
}

func (h *Handler) withHTML(logger *slog.Logger, in []render.Instruction) []instruction {
	out := make([]instruction, 0, len(in))
	for _, ins := range in {
		item := instruction{Instruction: ins}
		if ins.Kind == render.KindMarkdown {
			html, err := render.MarkdownHTML(ins.Text)
			if err != nil {
				logger.Warn("markdown conversion failed", "err", err)
			}
			item.HTML = html
		}
		out = append(out, item)
	}
	return out
}

func (h *Handler) invalidBody(logger *slog.Logger, cid string, err error) events.APIGatewayProxyResponse {
	return h.fail(logger, cid, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
}

func (h *Handler) fail(logger *slog.Logger, cid string, sess *domain.Session, err error) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	reason := "unexpected_error"
	var usecaseErr *usecase.Error
	if errors.As(err, &usecaseErr) {
		code = usecaseErr.Code
		reason = usecaseErr.Reason
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "reason", reason, "err", err)
	} else {
		logger.Info("request rejected", "code", code, "reason", reason)
	}
	if sess != nil && sess.ID == "" && len(sess.Messages) == 0 {
		sess = nil
	}
	return jsonResponse(status, cid, errorResponse{Error: string(code), Reason: reason, Session: sess})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorCommunication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, cid string, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: cid,
		},
		Body: string(b),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// transcriptPath extracts the unescaped id from /transcripts/{id}.
func transcriptPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/transcripts/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return id, true
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
