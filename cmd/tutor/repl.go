package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/render"
	"deepdive-tutor/internal/usecase"
)

const replHelp = `Type a question, or the number of a suggestion to follow it.
  :new                    start a new conversation
  :mode MODE [AUDIENCE]   switch persona (see "tutor personas")
  :fetch URL              attach a web page as reference material
  :save [TITLE]           save the conversation (title suggested if omitted)
  :list                   list saved conversations
  :load ID                load a saved conversation
  :delete ID              delete a saved conversation
  :quit                   exit`

// tutorService is the part of usecase.TutorService the terminal drives.
type tutorService interface {
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

// repl is the interactive tutoring loop. It owns the current session and the
// suggestions of the last reply.
type repl struct {
	tutor   tutorService
	out     *printer
	sess    domain.Session
	actions []render.ActionableItem
}

func newREPL(tutor tutorService, out *printer, mode domain.PersonaMode, audience domain.AudienceLevel) (*repl, error) {
	sess, err := tutor.NewSession(mode, audience)
	if err != nil {
		return nil, err
	}
	return &repl{tutor: tutor, out: out, sess: sess}, nil
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.out.info("Deep-dive tutor (%s, %s). Type :help for commands.", r.sess.Mode, r.sess.Audience)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out.out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// handle processes one input line and reports whether the loop should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(r.actions) {
		r.activate(ctx, r.actions[n-1])
		return false
	}
	if !strings.HasPrefix(line, ":") {
		r.ask(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "q", "exit":
		return true
	case "help", "h":
		r.out.line(replHelp)
	case "new":
		r.newSession(r.sess.Mode, r.sess.Audience)
	case "mode":
		r.switchMode(arg)
	case "fetch":
		r.fetch(ctx, arg)
	case "save":
		r.save(ctx, arg)
	case "list":
		r.list(ctx)
	case "load":
		r.load(ctx, arg)
	case "delete":
		r.remove(ctx, arg)
	default:
		r.out.notice(fmt.Sprintf("unknown command :%s (try :help)", cmd))
	}
	return false
}

func (r *repl) ask(ctx context.Context, question string) {
	reply, err := r.tutor.Ask(ctx, usecase.AskInput{Session: r.sess, Question: question})
	r.afterReply(reply, err)
}

func (r *repl) activate(ctx context.Context, item render.ActionableItem) {
	r.out.line("> %s", item.NextQuestion)
	reply, err := r.tutor.Activate(ctx, usecase.ActivateInput{Session: r.sess, Item: item})
	r.afterReply(reply, err)
}

func (r *repl) afterReply(reply usecase.Reply, err error) {
	if err != nil {
		// The question stays in the session even when the round-trip fails.
		if len(reply.Session.Messages) > 0 {
			r.sess = reply.Session
		}
		r.out.notice(describe(err))
		return
	}
	r.sess = reply.Session
	r.actions = r.out.reply(reply.Instructions)
}

func (r *repl) newSession(mode domain.PersonaMode, audience domain.AudienceLevel) {
	sess, err := r.tutor.NewSession(mode, audience)
	if err != nil {
		r.out.notice(describe(err))
		return
	}
	r.sess = sess
	r.actions = nil
	r.out.info("New conversation (%s, %s).", sess.Mode, sess.Audience)
}

func (r *repl) switchMode(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		r.out.notice("usage: :mode MODE [AUDIENCE]")
		return
	}
	audience := r.sess.Audience
	if len(fields) > 1 {
		audience = domain.AudienceLevel(fields[1])
	}
	probe, err := r.tutor.NewSession(domain.PersonaMode(fields[0]), audience)
	if err != nil {
		r.out.notice(describe(err))
		return
	}
	r.sess.Mode = probe.Mode
	r.sess.Audience = probe.Audience
	r.out.info("Mode: %s, audience: %s.", r.sess.Mode, r.sess.Audience)
}

func (r *repl) fetch(ctx context.Context, url string) {
	if url == "" {
		r.out.notice("usage: :fetch URL")
		return
	}
	sess, ok := r.tutor.AttachReference(ctx, r.sess, url)
	if !ok {
		r.out.notice("Could not read " + url + "; continuing without it.")
		return
	}
	r.sess = sess
	r.out.info("Attached %s (%d characters).", url, len([]rune(sess.Reference)))
}

func (r *repl) save(ctx context.Context, title string) {
	if len(r.sess.Messages) == 0 {
		r.out.notice("Nothing to save yet.")
		return
	}
	if title == "" {
		title = r.tutor.SuggestTitle(ctx, r.sess)
	}
	id, sess, err := r.tutor.SaveTranscript(ctx, r.sess, title)
	if err != nil {
		r.out.notice(describe(err))
		return
	}
	r.sess = sess
	r.out.info("Saved as %q.", id)
}

func (r *repl) list(ctx context.Context) {
	ids, err := r.tutor.ListTranscripts(ctx)
	if err != nil {
		r.out.notice(describe(err))
		return
	}
	if len(ids) == 0 {
		r.out.line("No saved conversations.")
		return
	}
	for _, id := range ids {
		r.out.line("  %s", id)
	}
}

func (r *repl) load(ctx context.Context, id string) {
	if id == "" {
		r.out.notice("usage: :load ID")
		return
	}
	sess, err := r.tutor.LoadTranscript(ctx, id)
	if err != nil {
		r.out.notice(describe(err))
		return
	}
	r.sess = sess
	r.actions = r.out.history(sess, r.renderer(sess))
	r.out.info("Loaded %q (%s, %s).", id, sess.Mode, sess.Audience)
}

func (r *repl) remove(ctx context.Context, id string) {
	if id == "" {
		r.out.notice("usage: :delete ID")
		return
	}
	if err := r.tutor.DeleteTranscript(ctx, id); err != nil {
		r.out.notice(describe(err))
		return
	}
	r.out.info("Deleted %q.", id)
}

func (r *repl) renderer(sess domain.Session) func(string) []render.Instruction {
	return func(content string) []render.Instruction {
		ins, err := r.tutor.Render(sess, content)
		if err != nil {
			return []render.Instruction{{Kind: render.KindNotice, Text: describe(err)}, {Kind: render.KindMarkdown, Text: content}}
		}
		return ins
	}
}

// describe turns an error into a one-line notice for the learner.
func describe(err error) string {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return err.Error()
	}
	switch ue.Code {
	case usecase.ErrorCommunication:
		return "Could not reach the tutor. Your question was kept; try again. (" + ue.Reason + ")"
	case usecase.ErrorRateLimited:
		return "The tutor is busy right now. Wait a moment and try again."
	case usecase.ErrorNotFound:
		return "No such saved conversation."
	case usecase.ErrorTranscriptIO:
		return "Could not access saved conversations: " + ue.Reason
	case usecase.ErrorInvalidInput:
		return "Invalid input: " + strings.ReplaceAll(ue.Reason, "_", " ")
	}
	return ue.Error()
}
