package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"deepdive-tutor/internal/domain"
	"deepdive-tutor/internal/render"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	actionColor  = color.New(color.FgYellow)
	noticeColor  = color.New(color.FgRed)
	infoColor    = color.New(color.FgGreen)
	userColor    = color.New(color.FgBlue, color.Bold)
)

// markdownStyle names a glamour style; empty picks one from the terminal.
var markdownStyle string

// printer writes render instructions to a terminal.
type printer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func newPrinter(out io.Writer, wordWrap int) (*printer, error) {
	style := glamour.WithAutoStyle()
	if markdownStyle != "" {
		style = glamour.WithStylePath(markdownStyle)
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(wordWrap))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &printer{out: out, md: md}, nil
}

// reply prints one rendered assistant message and returns its actionable
// items in display order; item n is shown as [n].
func (p *printer) reply(instructions []render.Instruction) []render.ActionableItem {
	var items []render.ActionableItem
	for _, ins := range instructions {
		switch ins.Kind {
		case render.KindHeading:
			headingColor.Fprintf(p.out, "\n## %s\n", ins.Text)
		case render.KindMarkdown:
			p.markdown(ins.Text)
		case render.KindDiagram:
			p.fenced("mermaid", ins.Text)
		case render.KindFormula:
			p.fenced("latex", ins.Text)
		case render.KindChart:
			p.fenced("json", indentJSON(ins.Chart))
		case render.KindCode:
			p.fenced(ins.Language, ins.Text)
		case render.KindNotice:
			p.notice(ins.Text)
		case render.KindActions:
			for _, item := range ins.Actions {
				items = append(items, item)
				actionColor.Fprintf(p.out, "  [%d] %s\n", len(items), item.Label)
			}
		}
	}
	return items
}

// history prints a whole session; assistant messages go through fn.
func (p *printer) history(sess domain.Session, fn func(content string) []render.Instruction) []render.ActionableItem {
	var last []render.ActionableItem
	for _, m := range sess.Messages {
		if m.Role == domain.RoleUser {
			userColor.Fprintf(p.out, "\n> %s\n", m.Content)
			continue
		}
		last = p.reply(fn(m.Content))
	}
	return last
}

func (p *printer) markdown(text string) {
	out, err := p.md.Render(text)
	if err != nil {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprint(p.out, out)
}

func (p *printer) fenced(language, text string) {
	p.markdown("```" + language + "\n" + strings.TrimSpace(text) + "\n```")
}

func (p *printer) notice(text string) {
	noticeColor.Fprintf(p.out, "! %s\n", text)
}

func (p *printer) info(format string, args ...any) {
	infoColor.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
