package render

import "strings"

const headingPrefix = "### "

// SectionKind is derived from a section title.
type SectionKind string

const (
	SectionPlain       SectionKind = "plain"
	SectionFollowUp    SectionKind = "follow_up"
	SectionKeywordList SectionKind = "keyword_list"
)

// Section is a titled part of a text run. A leading section before the first
// heading has an empty title.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Kind classifies the section by its title.
func (s Section) Kind() SectionKind {
	return Classify(s.Title)
}

// SplitSections splits text on "### " heading lines. Each section runs from
// its heading to the line before the next heading or the end of the text.
// Leading text before the first heading forms an untitled section when it is
// not blank.
func SplitSections(text string) []Section {
	var (
		sections []Section
		title    string
		headed   bool
		body     strings.Builder
	)
	flush := func() {
		b := strings.TrimSpace(body.String())
		body.Reset()
		if !headed && b == "" {
			return
		}
		sections = append(sections, Section{Title: title, Body: b})
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if t, ok := headingTitle(line); ok {
			flush()
			title, headed = t, true
			continue
		}
		body.WriteString(line)
	}
	flush()
	return sections
}

func headingTitle(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, headingPrefix) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(headingPrefix):]), true
}
