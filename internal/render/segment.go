package render

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// BlockKind tags a Block.
type BlockKind string

const (
	BlockText      BlockKind = "text"
	BlockDiagram   BlockKind = "diagram"
	BlockChartSpec BlockKind = "chart_spec"
	BlockFormula   BlockKind = "formula"
)

// Block is a maximal span of response text. Content has its delimiters
// removed and surrounding whitespace trimmed.
type Block struct {
	Kind    BlockKind `json:"kind"`
	Content string    `json:"content"`
}

type scanState int

const (
	stateOutside scanState = iota
	stateDiagramFence
	stateChartFence
	stateFormula
)

type delimiter struct {
	open  string
	close string
	kind  BlockKind
	state scanState
	// word requires the opener to be followed by a non-alphanumeric rune,
	// so "```jsonc" does not open a chart spec.
	word bool
}

var delimiters = []delimiter{
	{open: "```mermaid", close: "```", kind: BlockDiagram, state: stateDiagramFence, word: true},
	{open: "```json", close: "```", kind: BlockChartSpec, state: stateChartFence, word: true},
	{open: "$$", close: "$$", kind: BlockFormula, state: stateFormula},
}

// Segment splits a response into an ordered sequence of blocks. Delimited
// forms are recognized left to right; the earliest opener wins. An opener
// without a matching closer stays in the surrounding text run as literal
// text. Whitespace-only blocks are dropped.
func Segment(text string) []Block {
	s := &segmenter{src: text}
	for s.pos < len(s.src) {
		switch s.state {
		case stateOutside:
			s.scanOutside()
		default:
			s.scanDelimited()
		}
	}
	s.flushText()
	return s.blocks
}

type segmenter struct {
	src    string
	pos    int
	state  scanState
	open   delimiter
	openAt int
	text   strings.Builder
	blocks []Block
}

func (s *segmenter) scanOutside() {
	d, at, ok := nextOpener(s.src, s.pos)
	if !ok {
		s.text.WriteString(s.src[s.pos:])
		s.pos = len(s.src)
		return
	}
	s.text.WriteString(s.src[s.pos:at])
	s.open = d
	s.openAt = at
	s.pos = at + len(d.open)
	s.state = d.state
}

func (s *segmenter) scanDelimited() {
	rel := strings.Index(s.src[s.pos:], s.open.close)
	if rel < 0 {
		// Unterminated: keep the opener as text and keep scanning after it.
		s.text.WriteString(s.src[s.openAt:s.pos])
		s.state = stateOutside
		return
	}
	body := s.src[s.pos : s.pos+rel]
	s.flushText()
	s.emit(s.open.kind, body)
	s.pos += rel + len(s.open.close)
	s.state = stateOutside
}

func (s *segmenter) flushText() {
	s.emit(BlockText, s.text.String())
	s.text.Reset()
}

func (s *segmenter) emit(kind BlockKind, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.blocks = append(s.blocks, Block{Kind: kind, Content: content})
}

// nextOpener finds the earliest delimiter opener at or after from.
func nextOpener(src string, from int) (delimiter, int, bool) {
	best := -1
	var found delimiter
	for _, d := range delimiters {
		at := indexOpener(src, from, d)
		if at >= 0 && (best < 0 || at < best) {
			best = at
			found = d
		}
	}
	return found, best, best >= 0
}

func indexOpener(src string, from int, d delimiter) int {
	for from <= len(src) {
		rel := strings.Index(src[from:], d.open)
		if rel < 0 {
			return -1
		}
		at := from + rel
		if !d.word || endsWord(src, at+len(d.open)) {
			return at
		}
		from = at + len(d.open)
	}
	return -1
}

func endsWord(src string, i int) bool {
	if i >= len(src) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(src[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
