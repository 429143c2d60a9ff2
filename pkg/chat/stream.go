package chat

// StreamEvent is one server-pushed event on the streaming transport.
// A stream is zero or more fragment events followed by exactly one event with
// Done set, or a single event with Error set.
type StreamEvent struct {
	ConversationID string `json:"conversationId,omitempty"`
	Answer         string `json:"answer,omitempty"` // Answer fragment
	Error          string `json:"error,omitempty"`
	Done           bool   `json:"done,omitempty"`
}
