package domain

import (
	"strings"
	"time"
)

// Event is a change to a Session. The set of events is closed.
type Event interface {
	event()
}

// QuestionAsked appends a user message.
type QuestionAsked struct {
	Text string
	At   time.Time
}

// AnswerReceived appends an assistant message.
type AnswerReceived struct {
	Text string
	At   time.Time
}

// TopicExplored adds a keyword to the known-topic set.
type TopicExplored struct {
	Keyword string
	At      time.Time
}

// ReferenceAttached replaces the session's reference document.
type ReferenceAttached struct {
	URL  string
	Text string
	At   time.Time
}

// Titled names the session, usually right before it is saved.
type Titled struct {
	Title string
	At    time.Time
}

func (QuestionAsked) event()     {}
func (AnswerReceived) event()    {}
func (TopicExplored) event()     {}
func (ReferenceAttached) event() {}
func (Titled) event()            {}

// Apply returns s with e applied. s is not modified: slices are copied before
// they are appended to.
func Apply(s Session, e Event) Session {
	next := s
	var at time.Time
	switch ev := e.(type) {
	case QuestionAsked:
		next.Messages = appendMessage(s.Messages, Message{Role: RoleUser, Content: ev.Text})
		at = ev.At
	case AnswerReceived:
		next.Messages = appendMessage(s.Messages, Message{Role: RoleAssistant, Content: ev.Text})
		at = ev.At
	case TopicExplored:
		keyword := strings.TrimSpace(ev.Keyword)
		if keyword == "" || s.KnowsTopic(keyword) {
			return s
		}
		topics := make([]string, len(s.KnownTopics), len(s.KnownTopics)+1)
		copy(topics, s.KnownTopics)
		next.KnownTopics = append(topics, keyword)
		at = ev.At
	case ReferenceAttached:
		next.ReferenceURL = ev.URL
		next.Reference = ev.Text
		at = ev.At
	case Titled:
		next.Title = strings.TrimSpace(ev.Title)
		at = ev.At
	default:
		return s
	}
	if !at.IsZero() {
		if next.CreatedAt.IsZero() {
			next.CreatedAt = at
		}
		next.UpdatedAt = at
	}
	return next
}

func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}
