package domain

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UnmarshalJSON accepts the legacy "model" role written by older transcripts.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "model" {
		s = string(RoleAssistant)
	}
	*r = Role(s)
	return nil
}

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PersonaMode selects the tutor persona prompt.
type PersonaMode string

// AudienceLevel selects how the persona pitches its explanations.
type AudienceLevel string

// Session is the whole state of one tutoring conversation. It is persisted as
// a unit and only changed through Apply.
type Session struct {
	ID          string        `json:"id,omitempty"`
	Title       string        `json:"title,omitempty"`
	Mode        PersonaMode   `json:"mode"`
	Audience    AudienceLevel `json:"audience,omitempty"`
	Messages    []Message     `json:"messages"`
	KnownTopics []string      `json:"known_topics,omitempty"`
	// ReferenceURL and Reference hold an optional document the learner
	// attached; Reference is injected into the system prompt.
	ReferenceURL string    `json:"reference_url,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// LastAssistantMessage returns the newest assistant reply, if any.
func (s Session) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// KnowsTopic reports whether keyword is already in the known-topic set.
func (s Session) KnowsTopic(keyword string) bool {
	for _, k := range s.KnownTopics {
		if k == keyword {
			return true
		}
	}
	return false
}
