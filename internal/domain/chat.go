package domain

// Chat roles accepted by the hosted model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the use cases
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered message list sent to the model in one request.
type Conversation []ChatMessage

// Clone returns a copy so callers cannot mutate a conversation after it was sent.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}
