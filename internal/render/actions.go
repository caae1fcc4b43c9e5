package render

import (
	"regexp"
	"strings"
)

// Title markers for interactive sections, in Japanese and English.
var (
	followUpMarkers = []string{"深掘り", "分岐点", "実験", "dig deeper", "branch point", "experiment"}
	keywordMarkers  = []string{"キーワード", "登場人物", "専門用語", "keyword", "cast of characters", "terminology"}
)

var (
	enumerationPattern = regexp.MustCompile(`^\p{Nd}+\s*[.)．、:：]\s*`)
	bulletPattern      = regexp.MustCompile(`^(?:[-*+•・>]\s*)+`)
	inlineMarkup       = regexp.MustCompile("\\*\\*|`")
)

// DefaultKeywordQuestion is the question asked when a keyword is activated.
// "{keyword}" is replaced by the keyword.
const DefaultKeywordQuestion = "{keyword} — tell me more about this."

// ActionableItem is a suggestion the learner can activate. NextQuestion is
// submitted verbatim as the next user message. Keyword is set only for items
// from keyword lists and is recorded as a known topic on activation.
type ActionableItem struct {
	Label        string `json:"label"`
	NextQuestion string `json:"next_question"`
	Keyword      string `json:"keyword,omitempty"`
}

// Classify derives a SectionKind from a title by substring match. Follow-up
// markers are checked first.
func Classify(title string) SectionKind {
	t := strings.ToLower(title)
	if containsAny(t, followUpMarkers) {
		return SectionFollowUp
	}
	if containsAny(t, keywordMarkers) {
		return SectionKeywordList
	}
	return SectionPlain
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// FollowUpItems turns each non-empty body line into an item, with any leading
// enumeration ("2. ", "3) ") removed.
func FollowUpItems(body string) []ActionableItem {
	var items []ActionableItem
	for _, line := range nonEmptyLines(body) {
		q := strings.TrimSpace(enumerationPattern.ReplaceAllString(line, ""))
		if q == "" {
			continue
		}
		items = append(items, ActionableItem{Label: q, NextQuestion: q})
	}
	return items
}

// KeywordItems turns each non-empty body line into a keyword item. Bullets,
// enumeration and emphasis markup are stripped from the keyword, and a gloss
// after the first colon ("**Mass**: how much matter") is dropped.
func KeywordItems(body, questionTemplate string) []ActionableItem {
	if questionTemplate == "" {
		questionTemplate = DefaultKeywordQuestion
	}
	var items []ActionableItem
	for _, line := range nonEmptyLines(body) {
		kw := bulletPattern.ReplaceAllString(line, "")
		kw = enumerationPattern.ReplaceAllString(kw, "")
		kw = inlineMarkup.ReplaceAllString(kw, "")
		if i := strings.IndexAny(kw, ":："); i > 0 {
			kw = kw[:i]
		}
		kw = strings.Trim(kw, " \t*_`")
		if kw == "" {
			continue
		}
		items = append(items, ActionableItem{
			Label:        kw,
			NextQuestion: KeywordQuestion(questionTemplate, kw),
			Keyword:      kw,
		})
	}
	return items
}

// KeywordQuestion applies the keyword template.
func KeywordQuestion(template, keyword string) string {
	return strings.ReplaceAll(template, "{keyword}", keyword)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
