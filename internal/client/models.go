package client

// Message roles understood by the chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
