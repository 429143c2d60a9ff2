package chat

// ChatRequest represents one "send message" action.
type ChatRequest struct {
	ConversationID string `json:"conversationId,omitempty"` // Empty for a new conversation
	Message        string `json:"message"`                  // The new user message
	History        []Turn `json:"history"`                  // Prior turns in conversation order
}

// Clone returns a copy of the request that shares no memory with r.
func (r ChatRequest) Clone() ChatRequest {
	c := r
	if r.History != nil {
		c.History = make([]Turn, len(r.History))
		copy(c.History, r.History)
	}
	return c
}
