package domain

// Chat roles understood by the LLM integrations.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape sent to the LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
