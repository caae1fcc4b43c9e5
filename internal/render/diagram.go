package render

import "strings"

// nakedDiagramKeywords are the leading tokens of the diagram syntaxes models
// tend to emit without a fence.
var nakedDiagramKeywords = []string{
	"graph",
	"flowchart",
	"sequenceDiagram",
	"gantt",
	"pie",
	"timeline",
	"mindmap",
}

// ExtractNakedDiagrams promotes an unfenced diagram inside a text run.
//
// This is a heuristic, not a parser: the first line whose first word is one of
// nakedDiagramKeywords starts a diagram that runs to the end of the run.
// Text before that line stays a text block. At most one diagram is promoted
// per run, and prose that happens to open a line with a keyword ("pie charts
// are...") is promoted too.
func ExtractNakedDiagrams(run string) []Block {
	var blocks []Block
	add := func(kind BlockKind, content string) {
		content = strings.TrimSpace(content)
		if content != "" {
			blocks = append(blocks, Block{Kind: kind, Content: content})
		}
	}

	at := indexNakedDiagram(run)
	if at < 0 {
		add(BlockText, run)
		return blocks
	}
	add(BlockText, run[:at])
	add(BlockDiagram, run[at:])
	return blocks
}

// indexNakedDiagram returns the byte offset of the first diagram keyword that
// begins a line, or -1.
func indexNakedDiagram(s string) int {
	lineStart := 0
	for lineStart < len(s) {
		lineEnd := strings.IndexByte(s[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(s)
		} else {
			lineEnd += lineStart
		}
		line := s[lineStart:lineEnd]
		trimmed := strings.TrimLeft(line, " \t")
		if startsWithDiagramKeyword(trimmed) {
			return lineStart + len(line) - len(trimmed)
		}
		lineStart = lineEnd + 1
	}
	return -1
}

func startsWithDiagramKeyword(line string) bool {
	for _, kw := range nakedDiagramKeywords {
		if !strings.HasPrefix(line, kw) {
			continue
		}
		rest := line[len(kw):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\r' {
			return true
		}
	}
	return false
}
