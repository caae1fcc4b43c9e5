package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"deepdive-tutor/internal/domain"
)

const (
	maxTitleRunes      = 40
	titleHistoryRunes  = 600
	titleHistoryWindow = 6
)

var unsafeTitleChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// buildPromptMessages assembles the chat request for the next reply: the
// persona prompt, what the learner already knows, the attached reference and
// the most recent maxContext messages (the new question included).
func buildPromptMessages(systemPrompt string, s domain.Session, maxContext int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: strings.TrimSpace(systemPrompt)},
	}
	if note := knownTopicsNote(s.KnownTopics); note != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: note})
	}
	if ref := strings.TrimSpace(s.Reference); ref != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: referenceNote(s.ReferenceURL, ref)})
	}
	for _, m := range recentMessages(s.Messages, maxContext) {
		messages = append(messages, toChatMessage(m))
	}
	return messages
}

func knownTopicsNote(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	return "The learner has already explored these topics: " + strings.Join(topics, ", ") +
		". Do not repeat their basics; build on them and suggest new directions."
}

func referenceNote(url, text string) string {
	source := "the learner"
	if url != "" {
		source = url
	}
	return fmt.Sprintf("Reference material provided by %s. Ground your answers in it where relevant and say so when it does not cover the question.\n\n---\n%s\n---", source, text)
}

func recentMessages(msgs []domain.Message, n int) []domain.Message {
	if n > 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

func toChatMessage(m domain.Message) domain.ChatMessage {
	role := domain.ChatRoleUser
	if m.Role == domain.RoleAssistant {
		role = domain.ChatRoleAssistant
	}
	return domain.ChatMessage{Role: role, Content: m.Content}
}

// buildTitleMessages asks for a short file-name-friendly title summarizing the
// conversation.
func buildTitleMessages(s domain.Session) []domain.ChatMessage {
	var sb strings.Builder
	for _, m := range recentMessages(s.Messages, titleHistoryWindow) {
		content := []rune(strings.TrimSpace(m.Content))
		if len(content) > titleHistoryRunes {
			content = content[:titleHistoryRunes]
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", m.Role, string(content))
	}
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: strings.Join([]string{
			"Summarize the topic of the conversation below as a title suitable for a file name.",
			"Use at most six words, in the language of the conversation.",
			"Reply with the title only: no quotes, no punctuation at the end, no explanation.",
		}, "\n")},
		{Role: domain.ChatRoleUser, Content: sb.String()},
	}
}

// cleanTitle keeps the first line of a model reply and strips characters that
// are unsafe in file names, markdown emphasis and surrounding quotes.
func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(line, "# ")
	line = unsafeTitleChars.ReplaceAllString(line, "")
	line = strings.Trim(line, " \t*_`'“”「」.")
	if r := []rune(line); len(r) > maxTitleRunes {
		line = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return line
}
