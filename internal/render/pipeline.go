package render

import (
	"encoding/json"
)

// InstructionKind tells the UI how to display an Instruction.
type InstructionKind string

const (
	KindHeading  InstructionKind = "heading"
	KindMarkdown InstructionKind = "markdown"
	KindDiagram  InstructionKind = "diagram"
	KindFormula  InstructionKind = "formula"
	KindChart    InstructionKind = "chart"
	KindCode     InstructionKind = "code"
	KindNotice   InstructionKind = "notice"
	KindActions  InstructionKind = "actions"
)

// Instruction is one displayable unit of a rendered reply.
type Instruction struct {
	Kind     InstructionKind  `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Language string           `json:"language,omitempty"`
	Chart    json.RawMessage  `json:"chart,omitempty"`
	Section  SectionKind      `json:"section,omitempty"`
	Actions  []ActionableItem `json:"actions,omitempty"`
}

// Renderer turns one assistant message into display instructions. It holds no
// state besides its configuration and is safe for concurrent use.
type Renderer struct {
	keywordQuestion string
}

// NewRenderer returns a Renderer whose keyword items ask keywordQuestion
// ("{keyword}" is substituted). An empty template uses DefaultKeywordQuestion.
func NewRenderer(keywordQuestion string) *Renderer {
	if keywordQuestion == "" {
		keywordQuestion = DefaultKeywordQuestion
	}
	return &Renderer{keywordQuestion: keywordQuestion}
}

// Render runs the pipeline: segment, promote naked diagrams, split sections,
// classify and extract actions. Output order follows input order.
func (r *Renderer) Render(content string) []Instruction {
	var out []Instruction
	for _, b := range Segment(content) {
		switch b.Kind {
		case BlockDiagram:
			out = append(out, Instruction{Kind: KindDiagram, Text: b.Content})
		case BlockFormula:
			out = append(out, Instruction{Kind: KindFormula, Text: b.Content})
		case BlockChartSpec:
			out = append(out, r.chart(b.Content)...)
		case BlockText:
			for _, tb := range ExtractNakedDiagrams(b.Content) {
				if tb.Kind == BlockDiagram {
					out = append(out, Instruction{Kind: KindDiagram, Text: tb.Content})
					continue
				}
				for _, s := range SplitSections(tb.Content) {
					out = append(out, r.section(s)...)
				}
			}
		}
	}
	return out
}

// Actions returns every actionable item of content in display order.
func (r *Renderer) Actions(content string) []ActionableItem {
	var items []ActionableItem
	for _, in := range r.Render(content) {
		items = append(items, in.Actions...)
	}
	return items
}

func (r *Renderer) chart(raw string) []Instruction {
	spec, err := ParseChartSpec(raw)
	if err != nil {
		return []Instruction{
			{Kind: KindNotice, Text: "The chart could not be drawn: " + err.Error()},
			{Kind: KindCode, Language: "json", Text: raw},
		}
	}
	return []Instruction{{Kind: KindChart, Chart: spec}}
}

func (r *Renderer) section(s Section) []Instruction {
	var out []Instruction
	if s.Title != "" {
		out = append(out, Instruction{Kind: KindHeading, Text: s.Title})
	}
	kind := s.Kind()
	var items []ActionableItem
	switch kind {
	case SectionFollowUp:
		items = FollowUpItems(s.Body)
	case SectionKeywordList:
		items = KeywordItems(s.Body, r.keywordQuestion)
	}
	if len(items) > 0 {
		return append(out, Instruction{Kind: KindActions, Section: kind, Actions: items})
	}
	if s.Body != "" {
		out = append(out, Instruction{Kind: KindMarkdown, Text: s.Body})
	}
	return out
}
