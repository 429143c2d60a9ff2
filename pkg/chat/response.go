package chat

// ChatResponse is the single result of a completed send operation, whether
// it was streamed or fetched in one call.
type ChatResponse struct {
	ConversationID string `json:"conversationId"`
	Answer         string `json:"answer"`
}
